package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/per/internal/buffer"
	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/sampler"
	"github.com/cartridge/per/internal/storage"
)

// ReplayService implements the Replay gRPC service
type ReplayService struct {
	backend replay.Backend
	logger  zerolog.Logger
}

// NewReplayService creates a new ReplayService
func NewReplayService(backend replay.Backend, logger zerolog.Logger) *ReplayService {
	return &ReplayService{
		backend: backend,
		logger:  logger,
	}
}

// Store writes a batch of rows. Request: {batch}. Response: {indices}.
func (s *ReplayService) Store(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	batch := req.GetFields()["batch"].GetStructValue()
	if batch == nil {
		return nil, status.Error(codes.InvalidArgument, "batch is required")
	}
	data, err := DecodeStorage(batch)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rejected malformed batch")
		return nil, status.Errorf(codes.InvalidArgument, "invalid batch: %v", err)
	}

	indices, err := s.backend.Store(ctx, data)
	if err != nil {
		return nil, toStatus(err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"indices": intNumberList(indices),
	}}, nil
}

// Sample draws a batch. Response: {ready, sample_id, iteration, batch}.
func (s *ReplayService) Sample(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	batch, ok, err := s.backend.Sample(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"ready": structpb.NewBoolValue(false),
		}}, nil
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ready":     structpb.NewBoolValue(true),
		"sample_id": structpb.NewStringValue(batch.ID),
		"iteration": structpb.NewNumberValue(float64(batch.Iteration)),
		"batch":     structpb.NewStructValue(EncodeStorage(batch.Data)),
	}}, nil
}

// UpdatePriorities applies learner feedback. Request: {sample_id, indices,
// losses}. Response: {updated_count, stale_count}.
func (s *ReplayService) UpdatePriorities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	indices, err := intList(fields["indices"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "indices: %v", err)
	}
	losses, err := floatList(fields["losses"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "losses: %v", err)
	}
	if len(indices) != len(losses) {
		return nil, status.Error(codes.InvalidArgument, "indices and losses must have same length")
	}

	result, err := s.backend.UpdatePriorities(ctx, fields["sample_id"].GetStringValue(), indices, losses)
	if err != nil {
		return nil, toStatus(err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"updated_count": structpb.NewNumberValue(float64(result.Updated)),
		"stale_count":   structpb.NewNumberValue(float64(result.Stale)),
	}}, nil
}

// GetStats returns replay buffer statistics
func (s *ReplayService) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(stats)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetConfig returns the hyperparameters the backend runs with.
func (s *ReplayService) GetConfig(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := toStruct(s.backend.Hyperparameters())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, buffer.ErrSchemaMismatch), errors.Is(err, replay.ErrNotPrioritized):
		code = codes.FailedPrecondition
	case errors.Is(err, replay.ErrUnknownSample):
		code = codes.NotFound
	case errors.Is(err, replay.ErrNotInSample),
		errors.Is(err, replay.ErrMismatchedLength),
		errors.Is(err, sampler.ErrIndexOutOfRange),
		errors.Is(err, buffer.ErrReservedField),
		errors.Is(err, buffer.ErrTooLarge),
		errors.Is(err, storage.ErrShapeMismatch),
		errors.Is(err, storage.ErrLengthMismatch),
		errors.Is(err, storage.ErrEmpty):
		code = codes.InvalidArgument
	case errors.Is(err, replay.ErrClosed):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
