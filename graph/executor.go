package graph

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/99designs/gqlgen/graphql"
	"github.com/mmdatafocus/ledger_backend/models"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.graphqls
var schemaSource string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})

// executableSchema resolves the root fields of schema.graphqls against the
// ledger and projects each result onto the selection set. Object fields map
// to the snake_case JSON names of the returned models.
type executableSchema struct {
	resolver  *Resolver
	resolvers map[string]fieldResolver
}

func NewExecutableSchema(r *Resolver) graphql.ExecutableSchema {
	return &executableSchema{resolver: r, resolvers: r.fields()}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (e *executableSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	var root *ast.Definition
	switch opCtx.Operation.Operation {
	case ast.Query:
		root = parsedSchema.Query
	case ast.Mutation:
		root = parsedSchema.Mutation
	}
	if root == nil {
		return graphql.OneShot(&graphql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("unsupported operation %s", opCtx.Operation.Operation)},
		})
	}
	env, envErr := models.NewLedgerEnvFromContext(ctx)

	var errs gqlerror.List
	nullData := false
	var data bytes.Buffer
	data.WriteByte('{')
	// Root fields resolve serially in document order.
	for i, field := range graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{root.Name}) {
		if i > 0 {
			data.WriteByte(',')
		}
		writeKey(&data, field.Alias)
		if field.Name == "__typename" {
			writeJSON(&data, root.Name)
			continue
		}
		var out bytes.Buffer
		value, err := e.resolveRoot(ctx, opCtx, env, envErr, root, field)
		if err == nil {
			err = e.complete(&out, opCtx, field.Definition.Type, field.Selections, value)
		}
		if err != nil {
			errs = append(errs, fieldError(field.Alias, err))
			data.WriteString("null")
			if field.Definition.Type.NonNull {
				nullData = true
			}
			continue
		}
		data.Write(out.Bytes())
	}
	data.WriteByte('}')

	resp := &graphql.Response{Errors: errs, Data: data.Bytes()}
	if nullData {
		resp.Data = []byte("null")
	}
	return graphql.OneShot(resp)
}

func (e *executableSchema) resolveRoot(ctx context.Context, opCtx *graphql.OperationContext, env *models.LedgerEnv, envErr error, root *ast.Definition, field graphql.CollectedField) (value interface{}, err error) {
	resolve, ok := e.resolvers[root.Name+"."+field.Name]
	if !ok {
		return nil, fmt.Errorf("%s.%s has no resolver", root.Name, field.Name)
	}
	if envErr != nil {
		return nil, envErr
	}
	if e.resolver.Tracer != nil {
		var span trace.Span
		ctx, span = e.resolver.Tracer.Start(ctx, "graph."+root.Name+"."+field.Name,
			trace.WithAttributes(attribute.String("company_id", env.CompanyId())))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	args, err := normalizeArgs(field.Definition.Arguments, field.ArgumentMap(opCtx.Variables))
	if err != nil {
		return nil, err
	}
	fieldEnv := *env
	fieldEnv.Ctx = ctx
	result, err := resolve(ctx, fieldEnv, args)
	if err != nil {
		return nil, err
	}
	return toPlain(result)
}

// complete writes v shaped by typ and the selection set.
func (e *executableSchema) complete(buf *bytes.Buffer, opCtx *graphql.OperationContext, typ *ast.Type, sel ast.SelectionSet, v interface{}) error {
	if v == nil {
		if typ.NonNull {
			return fmt.Errorf("non-null %s resolved to null", typ.Name())
		}
		buf.WriteString("null")
		return nil
	}
	if typ.Elem != nil {
		items, ok := v.([]interface{})
		if !ok {
			return fmt.Errorf("%s is not a list", typ.String())
		}
		buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.complete(buf, opCtx, typ.Elem, sel, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}

	def := parsedSchema.Types[typ.NamedType]
	if def == nil {
		return fmt.Errorf("unknown type %s", typ.NamedType)
	}
	switch def.Kind {
	case ast.Object:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s is not an object", def.Name)
		}
		buf.WriteByte('{')
		for i, f := range graphql.CollectFields(opCtx, sel, []string{def.Name}) {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeKey(buf, f.Alias)
			if f.Name == "__typename" {
				writeJSON(buf, def.Name)
				continue
			}
			if err := e.complete(buf, opCtx, f.Definition.Type, f.Selections, obj[snakeCase(f.Name)]); err != nil {
				return fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
			}
		}
		buf.WriteByte('}')
		return nil
	case ast.Scalar:
		if def.Name == "Decimal" {
			d, err := UnmarshalDecimal(v)
			if err != nil {
				return err
			}
			MarshalDecimal(d).MarshalGQL(buf)
			return nil
		}
	}
	return writeJSON(buf, v)
}

func normalizeArgs(defs ast.ArgumentDefinitionList, raw map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))
	for name, v := range raw {
		def := defs.ForName(name)
		if def == nil {
			continue
		}
		nv, err := normalizeInput(def.Type, v)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		out[snakeCase(name)] = nv
	}
	return out, nil
}

// normalizeInput renames input object fields to snake_case and parses Decimal
// values, so arguments decode straight into the ledger input structs.
func normalizeInput(typ *ast.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if typ.Elem != nil {
		items, ok := v.([]interface{})
		if !ok {
			items = []interface{}{v}
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			nv, err := normalizeInput(typ.Elem, item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}

	def := parsedSchema.Types[typ.NamedType]
	switch {
	case def == nil:
		return v, nil
	case def.Kind == ast.InputObject:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s must be an object", def.Name)
		}
		out := make(map[string]interface{}, len(obj))
		for name, fv := range obj {
			fd := def.Fields.ForName(name)
			if fd == nil {
				return nil, fmt.Errorf("%s has no field %s", def.Name, name)
			}
			nv, err := normalizeInput(fd.Type, fv)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", def.Name, name, err)
			}
			out[snakeCase(name)] = nv
		}
		return out, nil
	case def.Name == "Decimal":
		d, err := UnmarshalDecimal(v)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	}
	return v, nil
}

func fieldError(alias string, err error) *gqlerror.Error {
	gerr := &gqlerror.Error{
		Message: err.Error(),
		Path:    ast.Path{ast.PathName(alias)},
	}
	var le *models.LedgerError
	if errors.As(err, &le) {
		gerr.Extensions = map[string]interface{}{"kind": le.Kind.Error()}
		if le.Id != 0 {
			gerr.Extensions["id"] = le.Id
		}
		if le.LineId != 0 {
			gerr.Extensions["line_id"] = le.LineId
		}
	}
	return gerr
}

// toPlain turns a resolver result into maps, slices and json.Number values.
func toPlain(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func writeKey(buf *bytes.Buffer, key string) {
	writeJSON(buf, key)
	buf.WriteByte(':')
}

func writeJSON(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
