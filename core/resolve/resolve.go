package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/inflect"
	"github.com/stokaro/architect/core/pkgschema"
)

// identPattern is the character set accepted for every SQL identifier drawn
// from config. Builder-time quoting is defense in depth on top of this.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// shapeValidator checks the `validate` struct tags on config records.
var shapeValidator = validator.New()

// typeNamePattern admits built-in type names (including multi-word ones
// like "double precision") and schema-qualified enum references.
var typeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// typeParamPattern admits numeric and word type parameters.
var typeParamPattern = regexp.MustCompile(`^[A-Za-z0-9_ ]+$`)

// knownFormats is the closed set of api-entity format rules.
var knownFormats = map[string]bool{"email": true, "uuid": true, "date-time": true}

// Resolve validates a decoded package against every referential invariant
// and freezes it into a Model. The pipeline is: per-record shape checks,
// id maps, referential checks, derived structures (entities, include graph,
// camelCase maps).
func Resolve(pkg *pkgschema.Package) (*Model, error) {
	m := &Model{
		PackageID:     pkg.Manifest.ID,
		Manifest:      pkg.Manifest,
		Schemas:       map[string]pkgschema.Schema{},
		Enums:         map[string]pkgschema.Enum{},
		Tables:        map[string]pkgschema.Table{},
		Columns:       map[string]pkgschema.Column{},
		Indexes:       map[string]pkgschema.Index{},
		Relationships: map[string]pkgschema.Relationship{},
		byPath:        map[string]*Entity{},
		byTable:       map[TableKey]*Entity{},
		byTableID:     map[string]*Entity{},
	}

	if err := checkShapes(pkg); err != nil {
		return nil, err
	}
	buildIDMaps(pkg, m)
	if err := checkReferences(pkg, m); err != nil {
		return nil, err
	}
	if err := buildEntities(pkg, m); err != nil {
		return nil, err
	}
	if err := buildIncludeGraph(pkg, m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkShapes(pkg *pkgschema.Package) error {
	checkIdent := func(path, name string) error {
		if !identPattern.MatchString(name) {
			return apperr.NewConfigValue(path, "identifier %q must match [A-Za-z_][A-Za-z0-9_]*", name)
		}
		return nil
	}

	if err := checkIdent("manifest.schema", pkg.Manifest.Schema); err != nil {
		return err
	}
	for i, s := range pkg.Schemas {
		path := fmt.Sprintf("schemas[%d]", i)
		if err := shape(path, s); err != nil {
			return err
		}
		if err := checkIdent(path+".name", s.Name); err != nil {
			return err
		}
	}
	for i, e := range pkg.Enums {
		path := fmt.Sprintf("enums[%d]", i)
		if err := shape(path, e); err != nil {
			return err
		}
		if err := checkIdent(path+".name", e.Name); err != nil {
			return err
		}
		for j, v := range e.Values {
			if v == "" {
				return apperr.NewConfigValue(fmt.Sprintf("%s.values[%d]", path, j), "enum label must not be empty")
			}
		}
	}
	for i, t := range pkg.Tables {
		path := fmt.Sprintf("tables[%d]", i)
		if err := shape(path, t); err != nil {
			return err
		}
		if err := checkIdent(path+".name", t.Name); err != nil {
			return err
		}
		if len(t.PrimaryKey) == 0 {
			return apperr.NewConfigValue(path+".primary_key", "table %q declares no primary key column", t.Name)
		}
	}
	for i, c := range pkg.Columns {
		path := fmt.Sprintf("columns[%d]", i)
		if err := shape(path, c); err != nil {
			return err
		}
		if err := checkIdent(path+".name", c.Name); err != nil {
			return err
		}
		// Type names are interpolated into DDL; constrain them even though
		// config sits behind a privileged boundary.
		if !typeNamePattern.MatchString(c.Type.Name) {
			return apperr.NewConfigValue(path+".type", "invalid type name %q", c.Type.Name)
		}
		for _, p := range c.Type.Params {
			if !typeParamPattern.MatchString(p) {
				return apperr.NewConfigValue(path+".type", "invalid type parameter %q", p)
			}
		}
	}
	for i, idx := range pkg.Indexes {
		path := fmt.Sprintf("indexes[%d]", i)
		if err := shape(path, idx); err != nil {
			return err
		}
		if err := checkIdent(path+".name", idx.Name); err != nil {
			return err
		}
		if !pkgschema.IndexMethods[idx.EffectiveMethod()] {
			return apperr.NewConfigValue(path+".method", "unknown index method %q", idx.Method)
		}
		for j, ic := range idx.Columns {
			cp := fmt.Sprintf("%s.columns[%d]", path, j)
			if ic.Direction != "" && ic.Direction != "asc" && ic.Direction != "desc" {
				return apperr.NewConfigValue(cp+".direction", "direction must be asc or desc, got %q", ic.Direction)
			}
			if ic.Nulls != "" && ic.Nulls != "first" && ic.Nulls != "last" {
				return apperr.NewConfigValue(cp+".nulls", "nulls must be first or last, got %q", ic.Nulls)
			}
		}
	}
	for i, r := range pkg.Relationships {
		path := fmt.Sprintf("relationships[%d]", i)
		if err := shape(path, r); err != nil {
			return err
		}
		if !pkgschema.ReferentialActions[pkgschema.EffectiveAction(r.OnUpdate)] {
			return apperr.NewConfigValue(path+".on_update", "unknown referential action %q", r.OnUpdate)
		}
		if !pkgschema.ReferentialActions[pkgschema.EffectiveAction(r.OnDelete)] {
			return apperr.NewConfigValue(path+".on_delete", "unknown referential action %q", r.OnDelete)
		}
	}
	for i, a := range pkg.APIEntities {
		path := fmt.Sprintf("api_entities[%d]", i)
		if err := shape(path, a); err != nil {
			return err
		}
		if a.PathSegment == "" || strings.ContainsAny(a.PathSegment, "/ ") {
			return apperr.NewConfigValue(path+".path_segment", "path segment %q must be a single non-empty segment", a.PathSegment)
		}
		for j, op := range a.Operations {
			if !pkgschema.KnownOperations[op] {
				return apperr.NewConfigValue(fmt.Sprintf("%s.operations[%d]", path, j), "unknown operation %q", op)
			}
		}
		for col, rule := range a.Validation.Columns {
			rp := fmt.Sprintf("%s.validation.columns.%s", path, col)
			if rule.Format != "" && !knownFormats[rule.Format] {
				return apperr.NewConfigValue(rp+".format", "unknown format %q", rule.Format)
			}
			if rule.Pattern != "" {
				if _, err := regexp.Compile(rule.Pattern); err != nil {
					return apperr.NewConfigValue(rp+".pattern", "invalid pattern: %v", err)
				}
			}
			if rule.MinLength != nil && rule.MaxLength != nil && *rule.MinLength > *rule.MaxLength {
				return apperr.NewConfigValue(rp, "min_length exceeds max_length")
			}
		}
	}
	return nil
}

func shape(path string, record any) error {
	if err := shapeValidator.Struct(record); err != nil {
		return apperr.NewConfigShape(path, "%v", err)
	}
	return nil
}

func buildIDMaps(pkg *pkgschema.Package, m *Model) {
	for _, s := range pkg.Schemas {
		m.Schemas[s.ID] = s
	}
	for _, e := range pkg.Enums {
		m.Enums[e.ID] = e
	}
	for _, t := range pkg.Tables {
		m.Tables[t.ID] = t
	}
	for _, c := range pkg.Columns {
		m.Columns[c.ID] = c
	}
	for _, i := range pkg.Indexes {
		m.Indexes[i.ID] = i
	}
	for _, r := range pkg.Relationships {
		m.Relationships[r.ID] = r
	}

	m.SchemaList = pkg.Schemas
	m.EnumList = pkg.Enums
	m.TableList = pkg.Tables
	m.IndexList = pkg.Indexes
	m.RelationshipList = pkg.Relationships
	m.TableColumns = map[string][]pkgschema.Column{}
	for _, c := range pkg.Columns {
		m.TableColumns[c.TableID] = append(m.TableColumns[c.TableID], c)
	}
}

// checkReferences enforces the referential invariants: every *_id resolves
// to a record of the expected type, relationship columns belong to their
// declared tables, pk/unique/index columns exist, validation columns exist,
// enum references resolve.
func checkReferences(pkg *pkgschema.Package, m *Model) error {
	columnsByTable := map[string]map[string]pkgschema.Column{}
	for _, c := range pkg.Columns {
		if _, ok := m.Tables[c.TableID]; !ok {
			return apperr.NewConfigReference(
				fmt.Sprintf("columns[%s].table_id", c.ID), "unknown table %q", c.TableID)
		}
		byName := columnsByTable[c.TableID]
		if byName == nil {
			byName = map[string]pkgschema.Column{}
			columnsByTable[c.TableID] = byName
		}
		if _, dup := byName[c.Name]; dup {
			return apperr.NewConfigDuplicate(
				fmt.Sprintf("columns[%s].name", c.ID), "table %q declares column %q twice", c.TableID, c.Name)
		}
		byName[c.Name] = c
	}

	enumsBySchemaName := map[string]map[string]pkgschema.Enum{}
	for _, e := range pkg.Enums {
		schemaName, ok := m.SchemaName(e.SchemaID)
		if !ok {
			return apperr.NewConfigReference(
				fmt.Sprintf("enums[%s].schema_id", e.ID), "unknown schema %q", e.SchemaID)
		}
		byName := enumsBySchemaName[schemaName]
		if byName == nil {
			byName = map[string]pkgschema.Enum{}
			enumsBySchemaName[schemaName] = byName
		}
		byName[e.Name] = e
	}

	for _, t := range pkg.Tables {
		path := fmt.Sprintf("tables[%s]", t.ID)
		if _, ok := m.SchemaName(t.SchemaID); !ok {
			return apperr.NewConfigReference(path+".schema_id", "unknown schema %q", t.SchemaID)
		}
		cols := columnsByTable[t.ID]
		for _, pk := range t.PrimaryKey {
			if _, ok := cols[pk]; !ok {
				return apperr.NewConfigReference(path+".primary_key", "column %q does not exist on table %q", pk, t.Name)
			}
		}
		for i, set := range t.Unique {
			for _, name := range set {
				if _, ok := cols[name]; !ok {
					return apperr.NewConfigReference(
						fmt.Sprintf("%s.unique[%d]", path, i), "column %q does not exist on table %q", name, t.Name)
				}
			}
		}
	}

	for _, c := range pkg.Columns {
		if schemaRef, enumRef, ok := c.Type.EnumRef(); ok {
			byName := enumsBySchemaName[schemaRef]
			if byName == nil {
				return apperr.NewConfigReference(
					fmt.Sprintf("columns[%s].type", c.ID), "enum reference %q names undeclared schema %q", c.Type.Name, schemaRef)
			}
			if _, ok := byName[enumRef]; !ok {
				return apperr.NewConfigReference(
					fmt.Sprintf("columns[%s].type", c.ID), "unknown enum %q in schema %q", enumRef, schemaRef)
			}
		}
	}

	for _, idx := range pkg.Indexes {
		path := fmt.Sprintf("indexes[%s]", idx.ID)
		if _, ok := m.SchemaName(idx.SchemaID); !ok {
			return apperr.NewConfigReference(path+".schema_id", "unknown schema %q", idx.SchemaID)
		}
		table, ok := m.Tables[idx.TableID]
		if !ok {
			return apperr.NewConfigReference(path+".table_id", "unknown table %q", idx.TableID)
		}
		cols := columnsByTable[idx.TableID]
		for i, ic := range idx.Columns {
			if ic.Expression != "" {
				continue
			}
			if _, ok := cols[ic.Name]; !ok {
				return apperr.NewConfigReference(
					fmt.Sprintf("%s.columns[%d]", path, i), "column %q does not exist on table %q", ic.Name, table.Name)
			}
		}
		for i, name := range idx.Include {
			if _, ok := cols[name]; !ok {
				return apperr.NewConfigReference(
					fmt.Sprintf("%s.include[%d]", path, i), "column %q does not exist on table %q", name, table.Name)
			}
		}
	}

	for _, r := range pkg.Relationships {
		path := fmt.Sprintf("relationships[%s]", r.ID)
		if err := checkRelationshipSide(m, path+".from", r.FromSchemaID, r.FromTableID, r.FromColumnID); err != nil {
			return err
		}
		if err := checkRelationshipSide(m, path+".to", r.ToSchemaID, r.ToTableID, r.ToColumnID); err != nil {
			return err
		}
	}

	seenPaths := map[string]string{}
	for _, a := range pkg.APIEntities {
		path := fmt.Sprintf("api_entities[%s]", a.EntityID)
		table, ok := m.Tables[a.EntityID]
		if !ok {
			return apperr.NewConfigReference(path+".entity_id", "unknown table %q", a.EntityID)
		}
		if prev, dup := seenPaths[a.PathSegment]; dup {
			return apperr.NewConfigDuplicate(
				path+".path_segment", "path segment %q already used by entity %q", a.PathSegment, prev)
		}
		seenPaths[a.PathSegment] = a.EntityID

		cols := columnsByTable[a.EntityID]
		for _, name := range a.SensitiveColumns {
			if _, ok := cols[name]; !ok && !isSystemColumn(name) {
				return apperr.NewConfigReference(
					path+".sensitive_columns", "column %q does not exist on table %q", name, table.Name)
			}
		}
		for name := range a.Validation.Columns {
			if _, ok := cols[name]; !ok && !isSystemColumn(name) {
				return apperr.NewConfigReference(
					fmt.Sprintf("%s.validation.columns.%s", path, name), "column %q does not exist on table %q", name, table.Name)
			}
		}
	}
	return nil
}

func checkRelationshipSide(m *Model, path, schemaID, tableID, columnID string) error {
	if _, ok := m.SchemaName(schemaID); !ok {
		return apperr.NewConfigReference(path+"_schema_id", "unknown schema %q", schemaID)
	}
	if _, ok := m.Tables[tableID]; !ok {
		return apperr.NewConfigReference(path+"_table_id", "unknown table %q", tableID)
	}
	col, ok := m.Columns[columnID]
	if !ok {
		return apperr.NewConfigReference(path+"_column_id", "unknown column %q", columnID)
	}
	if col.TableID != tableID {
		return apperr.NewConfigReference(
			path+"_column_id", "column %q belongs to table %q, not %q", columnID, col.TableID, tableID)
	}
	return nil
}

func isSystemColumn(name string) bool {
	for _, sc := range SystemColumns {
		if sc.Name == name {
			return true
		}
	}
	return false
}

// buildEntities materializes one Entity per api-entity record, appending
// system columns and precomputing the camelCase key maps.
func buildEntities(pkg *pkgschema.Package, m *Model) error {
	enumValues := func(schemaName, enumName string) []string {
		for _, e := range pkg.Enums {
			s, _ := m.SchemaName(e.SchemaID)
			if s == schemaName && e.Name == enumName {
				return e.Values
			}
		}
		return nil
	}

	for _, a := range pkg.APIEntities {
		table := m.Tables[a.EntityID]
		schemaName, _ := m.SchemaName(table.SchemaID)

		ent := &Entity{
			ID:          a.EntityID,
			SchemaName:  schemaName,
			TableName:   table.Name,
			PrimaryKey:  []string(table.PrimaryKey),
			Unique:      table.Unique,
			Checks:      table.Check,
			PathSegment: a.PathSegment,
			Operations:  map[pkgschema.Operation]bool{},
			Sensitive:   map[string]bool{},
			Rules:       a.Validation.Columns,
			Includes:    map[string]*Include{},
		}
		for _, op := range a.Operations {
			ent.Operations[op] = true
		}
		for _, s := range a.SensitiveColumns {
			ent.Sensitive[s] = true
		}

		declared := map[string]bool{}
		for _, c := range pkg.Columns {
			if c.TableID != a.EntityID {
				continue
			}
			col := Column{
				ID:        c.ID,
				Name:      c.Name,
				Type:      c.Type,
				Nullable:  c.IsNullable(),
				Default:   c.Default,
				Generated: c.Generated,
				Comment:   c.Comment,
			}
			if schemaRef, enumRef, ok := c.Type.EnumRef(); ok {
				col.EnumSchema = schemaRef
				col.EnumName = enumRef
				col.EnumValues = enumValues(schemaRef, enumRef)
			}
			ent.Columns = append(ent.Columns, col)
			declared[c.Name] = true
		}
		for _, sc := range SystemColumns {
			if !declared[sc.Name] {
				ent.Columns = append(ent.Columns, sc)
			}
		}

		ent.columnByName = make(map[string]*Column, len(ent.Columns))
		for i := range ent.Columns {
			ent.columnByName[ent.Columns[i].Name] = &ent.Columns[i]
		}

		camelByName, collision := inflect.CamelKeys(ent.ColumnNames())
		if collision[0] != "" {
			return apperr.NewConfigValue(
				fmt.Sprintf("tables[%s]", a.EntityID),
				"columns %q and %q collide in camelCase form", collision[0], collision[1])
		}
		ent.camelToSnake = make(map[string]string, len(camelByName))
		for snake, camel := range camelByName {
			ent.camelToSnake[camel] = snake
		}

		m.Entities = append(m.Entities, ent)
		m.byPath[ent.PathSegment] = ent
		m.byTable[TableKey{Schema: ent.SchemaName, Table: ent.TableName}] = ent
		m.byTableID[ent.ID] = ent
	}
	return nil
}

// buildIncludeGraph indexes relationships by the related entity's path
// segment on both endpoints. A relationship whose endpoint table is not
// exposed as an entity contributes no include; two relationships producing
// the same include key on one entity are ambiguous and rejected.
func buildIncludeGraph(pkg *pkgschema.Package, m *Model) error {
	for _, r := range pkg.Relationships {
		fromEnt := m.byTableID[r.FromTableID]
		toEnt := m.byTableID[r.ToTableID]
		if fromEnt == nil || toEnt == nil {
			continue
		}
		fromCol := m.Columns[r.FromColumnID]
		toCol := m.Columns[r.ToColumnID]

		// FK sits on the from-side: from-entity gets a to-one include of the
		// to-entity, the to-entity gets a to-many include back.
		if err := addInclude(fromEnt, &Include{
			Path:          toEnt.PathSegment,
			Related:       toEnt,
			LocalColumn:   fromCol.Name,
			RelatedColumn: toCol.Name,
			ToMany:        false,
		}, r.ID); err != nil {
			return err
		}
		if err := addInclude(toEnt, &Include{
			Path:          fromEnt.PathSegment,
			Related:       fromEnt,
			LocalColumn:   toCol.Name,
			RelatedColumn: fromCol.Name,
			ToMany:        true,
		}, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func addInclude(ent *Entity, inc *Include, relID string) error {
	if _, dup := ent.Includes[inc.Path]; dup {
		return apperr.NewConfigValue(
			fmt.Sprintf("relationships[%s]", relID),
			"include path %q on entity %q is ambiguous: more than one relationship reaches it", inc.Path, ent.PathSegment)
	}
	ent.Includes[inc.Path] = inc
	return nil
}
