package pkgschema

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stokaro/architect/core/apperr"
)

// DefaultSchemaID is the id of the schema record synthesized from the
// manifest's schema name.
const DefaultSchemaID = "default"

// ManifestFile is the one required file of a package layout.
const ManifestFile = "manifest.json"

// kindFiles maps config kinds to their file names inside a package
// directory or archive. Any of them may be absent.
var kindFiles = map[Kind]string{
	KindSchemas:       "schemas.json",
	KindEnums:         "enums.json",
	KindTables:        "tables.json",
	KindColumns:       "columns.json",
	KindIndexes:       "indexes.json",
	KindRelationships: "relationships.json",
	KindAPIEntities:   "api_entities.json",
}

// RawPackage is the undecoded form of a package: the manifest plus one JSON
// array per kind. Missing kinds are treated as empty arrays.
type RawPackage struct {
	Manifest json.RawMessage
	Kinds    map[Kind]json.RawMessage
}

// LoadDir reads a package from a directory laid out as manifest.json plus
// per-kind JSON files. Unknown files are ignored.
func LoadDir(dir string) (*Package, error) {
	raw := RawPackage{Kinds: map[Kind]json.RawMessage{}}

	manifest, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}
	raw.Manifest = manifest

	for kind, name := range kindFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		raw.Kinds[kind] = data
	}

	return Decode(raw)
}

// LoadZip reads a package from a zip archive with the same layout as a
// package directory. Entries inside a single top-level directory are
// accepted, so archives produced by zipping a folder work unchanged.
func LoadZip(archive []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, apperr.NewConfigShape("", "not a zip archive: %v", err)
	}

	raw := RawPackage{Kinds: map[Kind]json.RawMessage{}}
	for _, f := range zr.File {
		base := filepath.Base(f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipEntry(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
		}
		if base == ManifestFile {
			raw.Manifest = data
			continue
		}
		for kind, name := range kindFiles {
			if base == name {
				raw.Kinds[kind] = data
				break
			}
		}
	}

	if raw.Manifest == nil {
		return nil, apperr.NewConfigShape(ManifestFile, "archive does not contain a manifest")
	}
	return Decode(raw)
}

// LoadPath loads a package from either a directory or a .zip file.
func LoadPath(path string) (*Package, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat package path: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read package archive: %w", err)
		}
		return LoadZip(data)
	}
	return nil, fmt.Errorf("package path %s is neither a directory nor a zip archive", path)
}

// Decode turns a raw package into typed records, synthesizes the default
// schema from the manifest and injects the default schema id wherever a
// record omits one. Duplicate ids within a kind are rejected.
func Decode(raw RawPackage) (*Package, error) {
	pkg := &Package{}

	if err := json.Unmarshal(raw.Manifest, &pkg.Manifest); err != nil {
		return nil, apperr.NewConfigShape(ManifestFile, "%v", err)
	}
	if pkg.Manifest.ID == "" {
		return nil, apperr.NewConfigValue("manifest.id", "package id must not be empty")
	}
	if pkg.Manifest.Schema == "" {
		return nil, apperr.NewConfigValue("manifest.schema", "package schema must not be empty")
	}

	if err := decodeKind(raw.Kinds[KindSchemas], KindSchemas, &pkg.Schemas); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindEnums], KindEnums, &pkg.Enums); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindTables], KindTables, &pkg.Tables); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindColumns], KindColumns, &pkg.Columns); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindIndexes], KindIndexes, &pkg.Indexes); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindRelationships], KindRelationships, &pkg.Relationships); err != nil {
		return nil, err
	}
	if err := decodeKind(raw.Kinds[KindAPIEntities], KindAPIEntities, &pkg.APIEntities); err != nil {
		return nil, err
	}

	pkg.applyDefaultSchema()

	if err := pkg.checkDuplicateIDs(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func decodeKind[T any](data json.RawMessage, kind Kind, out *[]T) error {
	if data == nil {
		*out = nil
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.NewConfigShape(string(kind), "%v", err)
	}
	return nil
}

// applyDefaultSchema prepends the synthesized default schema record and fills
// in schema_id on every record that omits it, both sides for relationships.
func (p *Package) applyDefaultSchema() {
	hasDefault := false
	for _, s := range p.Schemas {
		if s.ID == DefaultSchemaID {
			// A package may carry its own default schema record; keep it.
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		p.Schemas = append([]Schema{{ID: DefaultSchemaID, Name: p.Manifest.Schema}}, p.Schemas...)
	}

	for i := range p.Enums {
		if p.Enums[i].SchemaID == "" {
			p.Enums[i].SchemaID = DefaultSchemaID
		}
	}
	for i := range p.Tables {
		if p.Tables[i].SchemaID == "" {
			p.Tables[i].SchemaID = DefaultSchemaID
		}
	}
	for i := range p.Indexes {
		if p.Indexes[i].SchemaID == "" {
			p.Indexes[i].SchemaID = DefaultSchemaID
		}
	}
	for i := range p.Relationships {
		if p.Relationships[i].FromSchemaID == "" {
			p.Relationships[i].FromSchemaID = DefaultSchemaID
		}
		if p.Relationships[i].ToSchemaID == "" {
			p.Relationships[i].ToSchemaID = DefaultSchemaID
		}
	}
}

func (p *Package) checkDuplicateIDs() error {
	check := func(kind Kind, ids []string) error {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			if seen[id] {
				return apperr.NewConfigDuplicate(
					fmt.Sprintf("%s[%d]", kind, i), "duplicate id %q", id)
			}
			seen[id] = true
		}
		return nil
	}

	if err := check(KindSchemas, collectIDs(p.Schemas, func(s Schema) string { return s.ID })); err != nil {
		return err
	}
	if err := check(KindEnums, collectIDs(p.Enums, func(e Enum) string { return e.ID })); err != nil {
		return err
	}
	if err := check(KindTables, collectIDs(p.Tables, func(t Table) string { return t.ID })); err != nil {
		return err
	}
	if err := check(KindColumns, collectIDs(p.Columns, func(c Column) string { return c.ID })); err != nil {
		return err
	}
	if err := check(KindIndexes, collectIDs(p.Indexes, func(i Index) string { return i.ID })); err != nil {
		return err
	}
	if err := check(KindRelationships, collectIDs(p.Relationships, func(r Relationship) string { return r.ID })); err != nil {
		return err
	}
	// API entities key on entity_id; path segment uniqueness is a resolver
	// invariant.
	return check(KindAPIEntities, collectIDs(p.APIEntities, func(a APIEntity) string { return a.EntityID }))
}

// Raw marshals a package back into its raw form. Used by the config
// endpoints to splice a posted kind into the stored package before
// revalidating the whole set.
func (p *Package) Raw() (RawPackage, error) {
	raw := RawPackage{Kinds: map[Kind]json.RawMessage{}}

	manifest, err := json.Marshal(p.Manifest)
	if err != nil {
		return RawPackage{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	raw.Manifest = manifest

	put := func(kind Kind, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", kind, err)
		}
		raw.Kinds[kind] = data
		return nil
	}
	if err := put(KindSchemas, p.Schemas); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindEnums, p.Enums); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindTables, p.Tables); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindColumns, p.Columns); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindIndexes, p.Indexes); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindRelationships, p.Relationships); err != nil {
		return RawPackage{}, err
	}
	if err := put(KindAPIEntities, p.APIEntities); err != nil {
		return RawPackage{}, err
	}
	return raw, nil
}

func collectIDs[T any](records []T, id func(T) string) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = id(r)
	}
	return out
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
