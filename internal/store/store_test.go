package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/meetpay/meetpay/pkg/id"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type note struct {
	ID    id.ID    `json:"id,omitempty"`
	Owner string   `json:"ownerId"`
	State string   `json:"state"`
	Tags  []string `json:"tags,omitempty"`
	Extra struct {
		Color string `json:"color,omitempty"`
	} `json:"extra"`
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func newTestCollection(t *testing.T, opts ...Option[note]) *Collection[note] {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	c := NewCollection[note](openTestDB(t), node, zap.NewNop(), "notes", opts...)
	if err := c.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	return c
}

func mustCreate(t *testing.T, c *Collection[note], n *note) *note {
	t.Helper()
	res, err := c.Create(context.Background(), n)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("create refused: %s", res.Reason)
	}
	return n
}

func TestCreateGeneratesIDAndRoundTrips(t *testing.T) {
	c := newTestCollection(t)

	n := mustCreate(t, c, &note{Owner: "alice", State: "open"})
	if n.ID.IsZero() {
		t.Fatal("expected generated id on the entity")
	}

	got, err := c.FindByID(context.Background(), n.ID.String())
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got.Owner != "alice" || got.State != "open" {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestCreateRunsValidationHook(t *testing.T) {
	c := newTestCollection(t, WithValidator[note](func(n *note) *Refusal {
		if n.Owner == "" {
			return &Refusal{Reason: "owner is required"}
		}
		return nil
	}))

	res, err := c.Create(context.Background(), &note{State: "open"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Accepted {
		t.Fatal("expected refusal for missing owner")
	}
	if res.Reason != "owner is required" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}

	docs, err := c.Find(context.Background(), Query{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("refused create must not persist, got %d docs", len(docs))
	}
}

func TestFindByIDRejectsMalformedID(t *testing.T) {
	c := newTestCollection(t)

	if _, err := c.FindByID(context.Background(), "not-hex"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestFindByIDMissing(t *testing.T) {
	c := newTestCollection(t)

	if _, err := c.FindByID(context.Background(), "00000000000000ff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindFiltersByDocumentFields(t *testing.T) {
	c := newTestCollection(t)
	mustCreate(t, c, &note{Owner: "alice", State: "open"})
	mustCreate(t, c, &note{Owner: "alice", State: "closed"})
	mustCreate(t, c, &note{Owner: "bob", State: "open"})

	docs, err := c.Find(context.Background(), Query{Fields: map[string]any{"ownerId": "alice", "state": "open"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if docs[0].Owner != "alice" || docs[0].State != "open" {
		t.Fatalf("unexpected doc: %+v", docs[0])
	}
}

func TestFindCapsResultSet(t *testing.T) {
	c := newTestCollection(t)
	for i := 0; i < findLimit+20; i++ {
		mustCreate(t, c, &note{Owner: "alice", State: "open"})
	}

	docs, err := c.Find(context.Background(), Query{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != findLimit {
		t.Fatalf("expected cap of %d, got %d", findLimit, len(docs))
	}
}

func TestSetFieldNestedPath(t *testing.T) {
	c := newTestCollection(t)
	n := mustCreate(t, c, &note{Owner: "alice", State: "open"})

	updated, err := c.SetField(context.Background(), n.ID.String(), "extra.color", "green")
	if err != nil {
		t.Fatalf("set field: %v", err)
	}
	if updated.Extra.Color != "green" {
		t.Fatalf("expected nested field set, got %+v", updated.Extra)
	}
}

func TestSetFieldMissingDocument(t *testing.T) {
	c := newTestCollection(t)

	if _, err := c.SetField(context.Background(), "00000000000000ff", "state", "closed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPushAndPullArray(t *testing.T) {
	c := newTestCollection(t)
	n := mustCreate(t, c, &note{Owner: "alice", State: "open"})

	if _, err := c.PushToArray(context.Background(), n.ID.String(), "tags", "urgent"); err != nil {
		t.Fatalf("push: %v", err)
	}
	updated, err := c.PushToArray(context.Background(), n.ID.String(), "tags", "billing")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(updated.Tags) != 2 || updated.Tags[0] != "urgent" || updated.Tags[1] != "billing" {
		t.Fatalf("unexpected tags: %v", updated.Tags)
	}

	updated, err = c.PullFromArray(context.Background(), n.ID.String(), "tags", func(item any) bool {
		return item == "urgent"
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "billing" {
		t.Fatalf("unexpected tags after pull: %v", updated.Tags)
	}
}

func TestFindAndModifyAppliesWhenPredicateMatches(t *testing.T) {
	c := newTestCollection(t)
	n := mustCreate(t, c, &note{Owner: "alice", State: "open"})

	updated, err := c.FindAndModify(context.Background(),
		Query{ID: n.ID, In: map[string][]any{"state": {"open", "reopened"}}},
		Update{Set: map[string]any{"state": "closed"}, Push: map[string]any{"tags": "resolved"}},
	)
	if err != nil {
		t.Fatalf("find and modify: %v", err)
	}
	if updated.State != "closed" {
		t.Fatalf("expected closed, got %q", updated.State)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "resolved" {
		t.Fatalf("unexpected tags: %v", updated.Tags)
	}
}

func TestFindAndModifyNoMatchLeavesDocumentUntouched(t *testing.T) {
	c := newTestCollection(t)
	n := mustCreate(t, c, &note{Owner: "alice", State: "closed"})

	_, err := c.FindAndModify(context.Background(),
		Query{ID: n.ID, Fields: map[string]any{"state": "open"}},
		Update{Set: map[string]any{"state": "archived"}},
	)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}

	got, err := c.FindByID(context.Background(), n.ID.String())
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got.State != "closed" {
		t.Fatalf("document changed despite no match: %q", got.State)
	}
}
