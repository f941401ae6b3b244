package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bind decodes the request body into out. JSON, urlencoded forms and
// multipart are all accepted; validation errors are reported with the JSON
// field names regardless of the wire format.
func Bind(ctx *gin.Context, out interface{}) bool {
	ct := strings.ToLower(ctx.GetHeader("Content-Type"))

	var err error

	if strings.HasPrefix(ct, "application/json") || ct == "" {
		err = ctx.ShouldBindJSON(out)
	} else {
		// form-urlencoded and multipart go through the form binder
		err = ctx.ShouldBind(out)
	}

	if err != nil {
		RespondBadRequest(ctx, "invalid_request", "Invalid request body", parseBindError(err, out))

		return false
	}

	return true
}

func parseBindError(err error, out interface{}) interface{} {
	root := baseStructType(out)

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		fields := make([]FieldError, 0, len(vErrs))
		for _, fe := range vErrs {
			rule, param := fe.Tag(), fe.Param()
			fields = append(fields, FieldError{
				Field:   jsonFieldPath(root, validatorNamespace(root, fe)),
				Rule:    rule,
				Param:   param,
				Message: validationMessage(rule, param),
			})
		}
		return gin.H{"fields": fields}
	}

	var synErr *json.SyntaxError
	if errors.As(err, &synErr) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := jsonFieldPath(root, typeErr.Field)
		if field == "" {
			field = strings.TrimSpace(typeErr.Field)
		}
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

func baseStructType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Kind() == reflect.Struct {
		return t
	}
	return nil
}

// validatorNamespace returns the dotted struct path of a validator error
// with the root struct name stripped, e.g. "ResetPasswordConfirmRequest.ReNewPassword"
// becomes "ReNewPassword".
func validatorNamespace(root reflect.Type, fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if ns == "" {
		ns = fe.Namespace()
	}
	if ns == "" {
		return fe.Field()
	}

	if root != nil && root.Name() != "" {
		ns = strings.TrimPrefix(ns, root.Name()+".")
	}
	return ns
}

// jsonFieldPath translates a dotted Go struct path into the corresponding
// path of JSON tag names, so clients see "re_new_password" rather than
// "ReNewPassword". Unresolvable segments are passed through as-is.
func jsonFieldPath(root reflect.Type, dotPath string) string {
	dotPath = strings.TrimSpace(dotPath)
	if dotPath == "" {
		return ""
	}

	cur := root
	parts := strings.Split(dotPath, ".")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}

		name, idx := part, ""
		if i := strings.Index(part, "["); i != -1 {
			name, idx = part[:i], part[i:]
		}

		for cur != nil && cur.Kind() == reflect.Pointer {
			cur = cur.Elem()
		}

		jsonName := name
		var next reflect.Type
		if cur != nil && cur.Kind() == reflect.Struct {
			if sf, ok := cur.FieldByName(name); ok {
				jsonName = jsonTagName(sf)
				next = elemType(sf.Type)
			}
		}

		out = append(out, jsonName+idx)
		cur = next
	}

	return strings.Join(out, ".")
}

func jsonTagName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

// elemType strips pointers, slices and arrays down to the element type.
func elemType(t reflect.Type) reflect.Type {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return t
		}
	}
	return nil
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "eqfield":
		return "must match " + param
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}
