package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getmockd/gqlproxy/pkg/graphql"
	"github.com/getmockd/gqlproxy/pkg/logging"
	"github.com/getmockd/gqlproxy/pkg/upstream"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/singleflight"
)

// Checker validates registered operations against the backend's schema.
type Checker struct {
	transport *upstream.Transport
	header    http.Header
	logger    *slog.Logger
	flight    singleflight.Group
}

// NewChecker creates a Checker fetching introspection through transport.
func NewChecker(transport *upstream.Transport, header http.Header, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Checker{
		transport: transport,
		header:    header.Clone(),
		logger:    logger,
	}
}

// Schema fetches and builds the backend schema. Concurrent calls share one
// introspection request, which keeps running when a waiting caller's ctx
// ends.
func (c *Checker) Schema(ctx context.Context) (*graphql.Schema, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("introspection", func() (any, error) {
		resp, err := c.transport.Do(flightCtx, upstream.Request{
			Query:  graphql.IntrospectionQuery,
			Header: c.header,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch introspection: %w", err)
		}
		return graphql.SchemaFromIntrospection(resp.Body)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*graphql.Schema), nil
	}
}

// Check validates every definition without an override and returns all
// errors in one list, each tagged with its operation hash. The returned
// error reports a failure to obtain the schema, never a validation error.
func (c *Checker) Check(ctx context.Context, defs []*Definition) ([]*gqlerror.Error, error) {
	targets := make([]*Definition, 0, len(defs))
	for _, def := range defs {
		if def.hooks.Load().override == nil {
			targets = append(targets, def)
		}
	}
	errs := []*gqlerror.Error{}
	if len(targets) == 0 {
		return errs, nil
	}

	schema, err := c.Schema(ctx)
	if err != nil {
		return nil, err
	}

	for _, def := range targets {
		// validated as sent: the cache directive is unknown to the backend
		for _, e := range schema.ValidateQuery(def.Hash, def.Query) {
			if e.Extensions == nil {
				e.Extensions = map[string]any{}
			}
			e.Extensions["hash"] = def.Hash
			errs = append(errs, e)
		}
	}

	c.logger.Info("schema check finished",
		"operations", len(targets),
		"skipped", len(defs)-len(targets),
		"errors", len(errs))
	return errs, nil
}
