package pkgschema_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
)

func writePackageFiles(c *qt.C, dir string, files map[string]string) {
	for name, content := range files {
		err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
		c.Assert(err, qt.IsNil)
	}
}

var minimalPackage = map[string]string{
	"manifest.json": `{"id":"crm","schema":"crm"}`,
	"tables.json":   `[{"id":"users","name":"users","primary_key":"id"}]`,
	"columns.json":  `[{"id":"users.id","table_id":"users","name":"id","type":"uuid","nullable":false}]`,
}

func TestLoadDir(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	writePackageFiles(c, dir, minimalPackage)

	pkg, err := pkgschema.LoadDir(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(pkg.Manifest.ID, qt.Equals, "crm")
	c.Assert(pkg.Tables, qt.HasLen, 1)
	c.Assert(pkg.Columns, qt.HasLen, 1)
	// Missing files are empty arrays.
	c.Assert(pkg.Enums, qt.HasLen, 0)
	c.Assert(pkg.Indexes, qt.HasLen, 0)
}

func TestLoadDir_DefaultSchemaSynthesis(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	writePackageFiles(c, dir, map[string]string{
		"manifest.json": `{"id":"crm","schema":"crm"}`,
		"enums.json":    `[{"id":"status","name":"status","values":["a","b"]}]`,
		"tables.json":   `[{"id":"users","name":"users","primary_key":"id"}]`,
		"relationships.json": `[{"id":"r1","from_table_id":"a","from_column_id":"ac",
			"to_table_id":"b","to_column_id":"bc"}]`,
	})

	pkg, err := pkgschema.LoadDir(dir)
	c.Assert(err, qt.IsNil)

	c.Assert(pkg.Schemas, qt.HasLen, 1)
	c.Assert(pkg.Schemas[0].ID, qt.Equals, pkgschema.DefaultSchemaID)
	c.Assert(pkg.Schemas[0].Name, qt.Equals, "crm")

	c.Assert(pkg.Enums[0].SchemaID, qt.Equals, pkgschema.DefaultSchemaID)
	c.Assert(pkg.Tables[0].SchemaID, qt.Equals, pkgschema.DefaultSchemaID)
	c.Assert(pkg.Relationships[0].FromSchemaID, qt.Equals, pkgschema.DefaultSchemaID)
	c.Assert(pkg.Relationships[0].ToSchemaID, qt.Equals, pkgschema.DefaultSchemaID)
}

func TestLoadDir_DuplicateIDs(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	writePackageFiles(c, dir, map[string]string{
		"manifest.json": `{"id":"crm","schema":"crm"}`,
		"tables.json": `[{"id":"users","name":"users","primary_key":"id"},
			{"id":"users","name":"users_two","primary_key":"id"}]`,
	})

	_, err := pkgschema.LoadDir(dir)
	var cfgErr *apperr.ConfigError
	c.Assert(errors.As(err, &cfgErr), qt.IsTrue)
	c.Assert(cfgErr.Kind, qt.Equals, apperr.CodeConfigDuplicateID)
}

func TestLoadDir_MissingManifest(t *testing.T) {
	c := qt.New(t)
	_, err := pkgschema.LoadDir(c.TempDir())
	c.Assert(err, qt.IsNotNil)
}

func TestLoadZip(t *testing.T) {
	c := qt.New(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range minimalPackage {
		// Archives produced by zipping a folder nest entries one level down.
		f, err := zw.Create("crm/" + name)
		c.Assert(err, qt.IsNil)
		_, err = f.Write([]byte(content))
		c.Assert(err, qt.IsNil)
	}
	c.Assert(zw.Close(), qt.IsNil)

	pkg, err := pkgschema.LoadZip(buf.Bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(pkg.Manifest.ID, qt.Equals, "crm")
	c.Assert(pkg.Tables, qt.HasLen, 1)
}

func TestLoadZip_NotAnArchive(t *testing.T) {
	c := qt.New(t)
	_, err := pkgschema.LoadZip([]byte("not a zip"))
	var cfgErr *apperr.ConfigError
	c.Assert(errors.As(err, &cfgErr), qt.IsTrue)
	c.Assert(cfgErr.Kind, qt.Equals, apperr.CodeConfigInvalidShape)
}

func TestRaw_RoundTrip(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	writePackageFiles(c, dir, minimalPackage)

	pkg, err := pkgschema.LoadDir(dir)
	c.Assert(err, qt.IsNil)

	raw, err := pkg.Raw()
	c.Assert(err, qt.IsNil)
	again, err := pkgschema.Decode(raw)
	c.Assert(err, qt.IsNil)
	c.Assert(again, qt.DeepEquals, pkg)
}
