package assist

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/tools"
	"github.com/querypilot/querypilot/internal/version"
)

const schemaCachePrefix = "schemacache"

// Resolver discovers the table metadata relevant to a request by running
// the tool-use loop with a fixed introspection directive.
type Resolver struct {
	Gateway  llm.Gateway
	Model    string
	MaxTurns int

	// Cache, when set, stores resolved schema descriptions in Redis so
	// repeated requests skip the discovery conversation. Cache failures
	// are logged and ignored; the resolver falls back to resolving.
	Cache    *redis.Client
	CacheTTL time.Duration
}

// Resolve returns the schema description for the request: the text of the
// LAST tool result the discovery loop produced, verbatim. When the loop
// finishes without invoking any tool the description is empty, which
// callers must treat as "no schema found", not as an error.
func (r *Resolver) Resolve(ctx context.Context, executor tools.Executor, catalog []tools.Tool, request string) (string, error) {
	cacheKey := version.Key(schemaCachePrefix, request)
	if r.Cache != nil {
		cached, err := r.Cache.Get(ctx, cacheKey).Result()
		if err == nil {
			log.Printf("schema cache HIT for request %.40q", request)
			return cached, nil
		}
		if err != redis.Nil {
			log.Printf("WARNING: schema cache read failed: %v", err)
		}
	}

	loop := &Loop{
		Gateway:  r.Gateway,
		Executor: executor,
		Model:    r.Model,
		MaxTurns: r.MaxTurns,
	}
	outcome, err := loop.Run(ctx, schemaSystemDirective, schemaUserText(request), catalog)
	if err != nil {
		return "", err
	}

	schemaInfo := ""
	if step := outcome.LastStep(); step != nil {
		schemaInfo = step.Result
	}

	if r.Cache != nil && schemaInfo != "" {
		if err := r.Cache.Set(ctx, cacheKey, schemaInfo, r.CacheTTL).Err(); err != nil {
			log.Printf("WARNING: schema cache write failed: %v", err)
		}
	}
	return schemaInfo, nil
}
