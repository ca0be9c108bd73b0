package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/meetpay/meetpay/pkg/id"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidID marks an external identifier that could not be
	// translated. Distinct from ErrNotFound: the store was never asked.
	ErrInvalidID = id.ErrInvalid
	// ErrNotFound reports that no document matched the identifier.
	ErrNotFound = errors.New("not_found")
	// ErrNoMatch reports that a find-and-modify predicate matched no
	// document. Conditional state transitions rely on it.
	ErrNoMatch = errors.New("no_match")
)

// findLimit caps unpaged result sets. Callers needing more page explicitly.
const findLimit = 100

// document is the row shape shared by every collection: the primary key in
// its storage form plus the entity serialized as a JSON document.
type document struct {
	ID  int64          `gorm:"column:id;primaryKey"`
	Doc datatypes.JSON `gorm:"column:doc;not null"`
}

// Refusal is a structured validation rejection. It is a value, not an
// error: callers distinguish "bad input" from "system failure".
type Refusal struct {
	Reason string
}

// CreateResult reports the outcome of an insert attempt.
type CreateResult struct {
	Accepted bool
	Reason   string
}

// Collection provides the generic persistence primitives for one entity
// type stored in one table. All mutating operations are read-modify-write
// inside a transaction, with row locking where the dialect supports it, so
// concurrent settlement of different meetings needs no external locking.
type Collection[T any] struct {
	db       *gorm.DB
	genID    *snowflake.Node
	log      *zap.Logger
	name     string
	validate func(*T) *Refusal
}

// Option configures a Collection.
type Option[T any] func(*Collection[T])

// WithValidator installs the entity-specific validation hook run by Create.
func WithValidator[T any](fn func(*T) *Refusal) Option[T] {
	return func(c *Collection[T]) { c.validate = fn }
}

// NewCollection builds a collection bound to the named table.
func NewCollection[T any](db *gorm.DB, genID *snowflake.Node, log *zap.Logger, name string, opts ...Option[T]) *Collection[T] {
	c := &Collection[T]{
		db:    db,
		genID: genID,
		log:   log.Named("store." + name),
		name:  name,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the collection's table name.
func (c *Collection[T]) Name() string { return c.name }

// EnsureTable creates the backing table when absent, mirroring the
// connect-and-ensure-collection step of process start.
func (c *Collection[T]) EnsureTable(ctx context.Context) error {
	return c.db.WithContext(ctx).Table(c.name).AutoMigrate(&document{})
}

// FindByID loads one document by its external identifier.
func (c *Collection[T]) FindByID(ctx context.Context, external string) (*T, error) {
	parsed, err := id.Parse(external)
	if err != nil {
		return nil, err
	}
	return c.findByKey(ctx, c.db, parsed)
}

// Find returns documents matching the query, capped at the page limit.
func (c *Collection[T]) Find(ctx context.Context, q Query) ([]*T, error) {
	tx := q.apply(c.db.WithContext(ctx).Table(c.name), c.db)
	var rows []document
	if err := tx.Limit(findLimit).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		entity, err := decode[T](row.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Create validates and inserts a document, generating its identifier when
// unset. A validation rejection is reported in the result, not as an error.
func (c *Collection[T]) Create(ctx context.Context, entity *T) (CreateResult, error) {
	if c.validate != nil {
		if refusal := c.validate(entity); refusal != nil {
			return CreateResult{Accepted: false, Reason: refusal.Reason}, nil
		}
	}

	doc, err := toDoc(entity)
	if err != nil {
		return CreateResult{}, err
	}

	key, err := c.documentID(doc)
	if err != nil {
		return CreateResult{}, err
	}
	if key.IsZero() {
		key = id.New(c.genID)
		doc["id"] = key.String()
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return CreateResult{}, fmt.Errorf("encode %s: %w", c.name, err)
	}
	row := document{ID: key.Int64(), Doc: encoded}
	if err := c.db.WithContext(ctx).Table(c.name).Create(&row).Error; err != nil {
		return CreateResult{}, fmt.Errorf("insert %s: %w", c.name, err)
	}

	// Reflect the generated id back onto the caller's entity.
	if reloaded, err := decode[T](encoded); err == nil {
		*entity = *reloaded
	}
	return CreateResult{Accepted: true}, nil
}

// SetField atomically sets a single, possibly nested, document field and
// returns the post-update entity.
func (c *Collection[T]) SetField(ctx context.Context, external string, path string, value any) (*T, error) {
	return c.modifyByID(ctx, external, func(doc map[string]any) error {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		return setPath(doc, path, normalized)
	})
}

// PushToArray atomically appends a value to an array-valued field.
func (c *Collection[T]) PushToArray(ctx context.Context, external string, path string, value any) (*T, error) {
	return c.modifyByID(ctx, external, func(doc map[string]any) error {
		return pushPath(doc, path, value)
	})
}

// PullFromArray atomically removes every element matching the predicate
// from an array-valued field.
func (c *Collection[T]) PullFromArray(ctx context.Context, external string, path string, match func(any) bool) (*T, error) {
	return c.modifyByID(ctx, external, func(doc map[string]any) error {
		current, ok := getPath(doc, path)
		if !ok {
			return nil
		}
		items, ok := current.([]any)
		if !ok {
			return fmt.Errorf("field %q of %s is not an array", path, c.name)
		}
		kept := make([]any, 0, len(items))
		for _, item := range items {
			if !match(item) {
				kept = append(kept, item)
			}
		}
		return setPath(doc, path, kept)
	})
}

// FindAndModify applies the update to the single document matching the
// query, atomically from the store's perspective. ErrNoMatch reports a
// predicate that matched nothing, which conditional state transitions use
// as their optimistic-concurrency signal.
func (c *Collection[T]) FindAndModify(ctx context.Context, q Query, u Update) (*T, error) {
	var updated *T
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := q.apply(tx.Table(c.name), tx)
		var row document
		if err := c.withRowLock(scoped).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoMatch
			}
			return fmt.Errorf("find-and-modify %s: %w", c.name, err)
		}

		doc, err := decodeDoc(row.Doc)
		if err != nil {
			return err
		}
		if err := u.applyTo(doc); err != nil {
			return err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", c.name, err)
		}
		if err := tx.Table(c.name).Where("id = ?", row.ID).Update("doc", datatypes.JSON(encoded)).Error; err != nil {
			return fmt.Errorf("update %s: %w", c.name, err)
		}
		updated, err = decode[T](encoded)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Collection[T]) modifyByID(ctx context.Context, external string, mutate func(map[string]any) error) (*T, error) {
	parsed, err := id.Parse(external)
	if err != nil {
		return nil, err
	}

	var updated *T
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row document
		scoped := tx.Table(c.name).Where("id = ?", parsed.Int64())
		if err := c.withRowLock(scoped).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s %s", ErrNotFound, c.name, external)
			}
			return fmt.Errorf("load %s: %w", c.name, err)
		}

		doc, err := decodeDoc(row.Doc)
		if err != nil {
			return err
		}
		if err := mutate(doc); err != nil {
			return err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", c.name, err)
		}
		if err := tx.Table(c.name).Where("id = ?", row.ID).Update("doc", datatypes.JSON(encoded)).Error; err != nil {
			return fmt.Errorf("update %s: %w", c.name, err)
		}
		updated, err = decode[T](encoded)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Collection[T]) findByKey(ctx context.Context, db *gorm.DB, key id.ID) (*T, error) {
	var row document
	err := db.WithContext(ctx).Table(c.name).Where("id = ?", key.Int64()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, c.name, key.String())
		}
		return nil, fmt.Errorf("load %s: %w", c.name, err)
	}
	return decode[T](row.Doc)
}

func (c *Collection[T]) documentID(doc map[string]any) (id.ID, error) {
	raw, ok := doc["id"]
	if !ok || raw == nil {
		return 0, nil
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return id.Parse(s)
}

// withRowLock adds FOR UPDATE on dialects that support it. sqlite
// serializes writers on its own.
func (c *Collection[T]) withRowLock(tx *gorm.DB) *gorm.DB {
	if c.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func decode[T any](data []byte) (*T, error) {
	entity := new(T)
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return entity, nil
}

func decodeDoc(data []byte) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func toDoc(entity any) (map[string]any, error) {
	encoded, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	return decodeDoc(encoded)
}

// normalize round-trips a value through JSON so nested structs land in the
// document as plain maps.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
