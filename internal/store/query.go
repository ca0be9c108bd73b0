package store

import (
	"strings"

	"github.com/meetpay/meetpay/pkg/id"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Query selects documents by primary key and by document fields. Field
// keys are dotted paths into the JSON document.
type Query struct {
	ID     id.ID
	Fields map[string]any
	In     map[string][]any
}

func (q Query) apply(tx *gorm.DB, db *gorm.DB) *gorm.DB {
	if !q.ID.IsZero() {
		tx = tx.Where("id = ?", q.ID.Int64())
	}
	for path, value := range q.Fields {
		tx = tx.Where(datatypes.JSONQuery("doc").Equals(value, splitPath(path)...))
	}
	for path, values := range q.In {
		if len(values) == 0 {
			continue
		}
		group := db.Where(datatypes.JSONQuery("doc").Equals(values[0], splitPath(path)...))
		for _, value := range values[1:] {
			group = group.Or(datatypes.JSONQuery("doc").Equals(value, splitPath(path)...))
		}
		tx = tx.Where(group)
	}
	return tx
}

// Update is the tagged mutation payload applied by FindAndModify: fields
// to set and arrays to append to, both keyed by dotted path.
type Update struct {
	Set  map[string]any
	Push map[string]any
}

func (u Update) applyTo(doc map[string]any) error {
	for path, value := range u.Set {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		if err := setPath(doc, path, normalized); err != nil {
			return err
		}
	}
	for path, value := range u.Push {
		if err := pushPath(doc, path, value); err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
