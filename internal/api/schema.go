package api

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const userSchemaJSON = `{
  "type": "object",
  "required": ["id", "username"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "firstName": {"type": "string"},
    "lastName": {"type": "string"},
    "username": {"type": "string", "minLength": 1}
  }
}`

const todoSchemaJSON = `{
  "type": "object",
  "required": ["id", "title", "completed"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "completed": {"type": "boolean"},
    "userId": {"type": "string"},
    "createdAt": {"type": "string"},
    "updatedAt": {"type": "string"}
  }
}`

const healthSchemaJSON = `{
  "type": "object",
  "required": ["database", "cache"],
  "properties": {
    "database": {"enum": ["ok", "down"]},
    "cache": {"enum": ["ok", "down", "disabled"]}
  }
}`

const usernameCheckSchemaJSON = `{
  "type": "object",
  "required": ["available"],
  "properties": {
    "available": {"type": "boolean"},
    "message": {"type": "string"}
  }
}`

// schemas holds the compiled response shapes.
type schemas struct {
	user          *jsonschema.Schema
	loginResponse *jsonschema.Schema
	todo          *jsonschema.Schema
	todoList      *jsonschema.Schema
	health        *jsonschema.Schema
	usernameCheck *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	resources := map[string]string{
		"mem://user.json":     userSchemaJSON,
		"mem://todo.json":     todoSchemaJSON,
		"mem://health.json":   healthSchemaJSON,
		"mem://username.json": usernameCheckSchemaJSON,
		"mem://login.json": `{
  "type": "object",
  "required": ["user"],
  "properties": {"user": {"$ref": "mem://user.json"}}
}`,
		"mem://todos.json": `{
  "type": ["array", "null"],
  "items": {"$ref": "mem://todo.json"}
}`,
	}
	for url, src := range resources {
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
	}
	s := &schemas{}
	targets := []struct {
		url string
		dst **jsonschema.Schema
	}{
		{"mem://user.json", &s.user},
		{"mem://login.json", &s.loginResponse},
		{"mem://todo.json", &s.todo},
		{"mem://todos.json", &s.todoList},
		{"mem://health.json", &s.health},
		{"mem://username.json", &s.usernameCheck},
	}
	for _, tgt := range targets {
		compiled, err := compiler.Compile(tgt.url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", tgt.url, err)
		}
		*tgt.dst = compiled
	}
	return s, nil
}

// decodeValidated checks body against schema before decoding it into out.
func decodeValidated(body []byte, schema *jsonschema.Schema, out any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
