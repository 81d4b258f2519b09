package setting

import (
	"context"
	"encoding/json"
)

type Repository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Put(ctx context.Context, key string, value json.RawMessage, updatedBy string) (*Setting, error)
	List(ctx context.Context) ([]*Setting, error)
}
