package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping pinger
}

type component struct {
	name string
	run  runner
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Components   []component
}

// Service runs the fulfillment pool and the event consumers side by side.
// The first component to fail cancels the others.
type Service struct {
	logg       *logger.Logger
	deps       []dependency
	components []component
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	var components []component
	for _, c := range params.Components {
		if c.run == nil {
			continue
		}
		components = append(components, c)
	}
	if len(components) == 0 {
		return nil, errors.New("at least one worker component is required")
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, components: components}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if dep.ping == nil {
			continue
		}
		if err := dep.ping.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.components {
		g.Go(func() error {
			runCtx := s.logg.WithField(gctx, "component", c.name)
			s.logg.Info(runCtx, "worker component starting")
			err := c.run.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(runCtx, "worker component stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", c.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
