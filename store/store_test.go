package store_test

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/architect/core/pkgschema"
	"github.com/stokaro/architect/store"
)

func TestNew_SchemaValidation(t *testing.T) {
	c := qt.New(t)

	s, err := store.New("")
	c.Assert(err, qt.IsNil)
	c.Assert(s.Schema(), qt.Equals, store.DefaultSchema)

	s, err = store.New("tenancy_meta")
	c.Assert(err, qt.IsNil)
	c.Assert(s.Schema(), qt.Equals, "tenancy_meta")

	_, err = store.New(`bad"schema`)
	c.Assert(err, qt.IsNotNil)

	_, err = store.New("1leading_digit")
	c.Assert(err, qt.IsNotNil)
}

func TestKindRecords(t *testing.T) {
	c := qt.New(t)

	pkg := &pkgschema.Package{
		Manifest: pkgschema.Manifest{ID: "app", Schema: "app"},
		Tables: []pkgschema.Table{
			{ID: "users", Name: "users", PrimaryKey: pkgschema.StringList{"id"}},
		},
		APIEntities: []pkgschema.APIEntity{
			{EntityID: "users", PathSegment: "users", Operations: []pkgschema.Operation{pkgschema.OpList}},
		},
	}

	records, err := store.KindRecords(pkg, pkgschema.KindTables)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 1)
	c.Assert(records[0].ID, qt.Equals, "users")

	var table pkgschema.Table
	c.Assert(json.Unmarshal(records[0].Payload, &table), qt.IsNil)
	c.Assert(table.Name, qt.Equals, "users")

	// API entities key on entity_id.
	records, err = store.KindRecords(pkg, pkgschema.KindAPIEntities)
	c.Assert(err, qt.IsNil)
	c.Assert(records[0].ID, qt.Equals, "users")

	// Absent kinds produce no records.
	records, err = store.KindRecords(pkg, pkgschema.KindEnums)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 0)
}
