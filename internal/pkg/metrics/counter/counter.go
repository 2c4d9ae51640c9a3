package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ServiceBoard/app/repository"
)

const publicationViewsKey = "publication:counters:views"

// Views buffers publication view counts in a Redis hash and flushes them to
// the database in one batched UPDATE.
type Views struct {
	client  *redis.Client
	factory *repository.Factory
}

func NewViews(client *redis.Client, factory *repository.Factory) *Views {
	return &Views{client: client, factory: factory}
}

// AddPublicationView increments the pending view counter for a publication
func (v *Views) AddPublicationView(ctx context.Context, publicationID uint) error {
	field := strconv.FormatUint(uint64(publicationID), 10)
	return v.client.HIncrBy(ctx, publicationViewsKey, field, 1).Err()
}

// Flush drains the hash and applies the increments. RENAME to a temporary
// key makes the drain atomic without losing in-flight increments.
func (v *Views) Flush(ctx context.Context) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", publicationViewsKey, time.Now().UnixNano())
	if err := v.client.Rename(ctx, publicationViewsKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer v.client.Del(context.WithoutCancel(ctx), tmpKey)

	data, err := v.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	counts := make(map[uint]int64, len(data))
	for k, raw := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(raw, 10, 64)
		if ierr != nil || inc <= 0 {
			continue
		}
		counts[uint(id)] = inc
	}
	if len(counts) == 0 {
		return nil
	}
	return v.factory.WithContext(ctx).Publication.AddViewCounts(counts)
}
