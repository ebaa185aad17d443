// Package openapi describes the HTTP API as an OpenAPI 3.0 document built
// from the routes registered on the echo instance at request time.
package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds the document. Only routes under prefix are listed; public
// reports paths that need no session.
type Generator struct {
	routes  func() []*echo.Route
	prefix  string
	version string
	public  func(path string) bool
}

func NewGenerator(routes func() []*echo.Route, prefix, version string, public func(string) bool) *Generator {
	if public == nil {
		public = func(string) bool { return false }
	}
	return &Generator{routes: routes, prefix: prefix, version: version, public: public}
}

// resource maps the first path segment after the prefix to its schemas.
type resource struct {
	tag      string
	schema   string // response body
	request  string // request body, when the route takes one
	listWrap bool   // list responses are paginated
}

var resources = map[string]resource{
	"agenda":        {tag: "Agenda", schema: "DayView"},
	"appointments":  {tag: "Appointments", schema: "Appointment", request: "BookingRequest", listWrap: true},
	"patients":      {tag: "Patients", schema: "Patient", request: "Patient", listWrap: true},
	"professionals": {tag: "Professionals", schema: "Professional", request: "Professional"},
	"services":      {tag: "Services", schema: "Service", request: "ServiceInput"},
	"reports":       {tag: "Reports", schema: "Report"},
	"login":         {tag: "Auth", schema: "Session", request: "Login"},
}

var methods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// GenerateSpec produces the OpenAPI document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	for _, r := range g.routes() {
		if !methods[r.Method] || !strings.HasPrefix(r.Path, g.prefix+"/") {
			continue
		}
		path := toOpenAPIPath(strings.TrimPrefix(r.Path, g.prefix))
		if paths[path] == nil {
			paths[path] = make(map[string]interface{})
		}
		paths[path][strings.ToLower(r.Method)] = g.operation(r.Method, r.Path, path)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Clinic Agenda API",
			"version":     g.version,
			"description": "Patients, professionals, services, appointments and KPI reports of a single clinic",
		},
		"servers": []map[string]string{{"url": g.prefix}},
		"paths":   paths,
		"components": map[string]interface{}{
			"schemas": componentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
}

func (g *Generator) operation(method, fullPath, path string) map[string]interface{} {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	res, ok := resources[segments[0]]
	if !ok {
		res = resource{tag: "Other", schema: "Object"}
	}
	hasID := strings.Contains(path, "{id}")

	op := map[string]interface{}{
		"summary":     summary(method, segments, hasID),
		"operationId": operationID(method, segments, hasID),
		"tags":        []string{res.tag},
	}

	var params []map[string]interface{}
	if hasID {
		params = append(params, map[string]interface{}{
			"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string"},
		})
	}
	if method == http.MethodGet {
		params = append(params, queryParameters(segments[0], hasID)...)
	}
	if len(params) > 0 {
		op["parameters"] = params
	}

	responses := map[string]interface{}{
		"400": errorResponse("Malformed request"),
		"422": errorResponse("Validation failed"),
	}
	switch {
	case strings.HasSuffix(path, "/status"):
		op["requestBody"] = jsonBody("StatusChange")
		responses["200"] = schemaResponse("Updated", "StatusChange")
		responses["404"] = errorResponse("Not found")
	case method == http.MethodPost:
		if res.request != "" {
			op["requestBody"] = jsonBody(res.request)
		}
		if segments[0] == "login" {
			responses["200"] = schemaResponse("Session issued", res.schema)
		} else {
			responses["201"] = schemaResponse("Created", res.schema)
		}
		if segments[0] == "appointments" {
			responses["409"] = errorResponse("Overlaps another appointment of the professional")
		}
	case method == http.MethodPut:
		if res.request != "" {
			op["requestBody"] = jsonBody(res.request)
		}
		responses["200"] = schemaResponse("Updated", res.schema)
		responses["404"] = errorResponse("Not found")
	case hasID:
		responses["200"] = schemaResponse("Success", res.schema)
		responses["404"] = errorResponse("Not found")
	case res.listWrap:
		responses["200"] = pageResponse(res.schema)
	case segments[0] == "professionals" || segments[0] == "services":
		responses["200"] = map[string]interface{}{
			"description": "Success",
			"content": map[string]interface{}{"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"type": "array", "items": ref(res.schema)},
			}},
		}
	default:
		responses["200"] = schemaResponse("Success", res.schema)
	}
	op["responses"] = responses

	if g.public(fullPath) {
		op["security"] = []map[string][]string{}
	} else {
		op["security"] = []map[string][]string{{"bearerAuth": {}}}
		responses["401"] = errorResponse("Missing or invalid session")
	}
	return op
}

func queryParameters(collection string, hasID bool) []map[string]interface{} {
	if hasID {
		return nil
	}
	var names []string
	switch collection {
	case "agenda":
		names = []string{"date", "block", "start", "end"}
	case "appointments":
		names = []string{"from", "to", "status", "limit", "offset"}
	case "patients":
		names = []string{"q", "limit", "offset"}
	case "reports":
		names = []string{"from", "to", "professional"}
	}
	params := make([]map[string]interface{}, 0, len(names))
	for _, n := range names {
		typ := "string"
		if n == "block" || n == "limit" || n == "offset" {
			typ = "integer"
		}
		params = append(params, map[string]interface{}{
			"name": n, "in": "query", "schema": map[string]string{"type": typ},
		})
	}
	return params
}

// toOpenAPIPath rewrites echo's ":param" segments as "{param}".
func toOpenAPIPath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		if strings.HasPrefix(s, ":") {
			parts[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}

func summary(method string, segments []string, hasID bool) string {
	name := segments[0]
	switch {
	case len(segments) > 2:
		return "Update " + strings.TrimSuffix(name, "s") + " " + segments[len(segments)-1]
	case method == http.MethodGet && hasID:
		return "Read " + strings.TrimSuffix(name, "s")
	case method == http.MethodGet:
		return "List " + name
	case method == http.MethodPost && name == "login":
		return "Open a session"
	case method == http.MethodPost:
		return "Create " + strings.TrimSuffix(name, "s")
	case method == http.MethodPut:
		return "Update " + strings.TrimSuffix(name, "s")
	}
	return method + " " + name
}

func operationID(method string, segments []string, hasID bool) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, s := range segments {
		if s == "{id}" {
			continue
		}
		b.WriteString(strings.ToUpper(s[:1]) + s[1:])
	}
	if hasID {
		b.WriteString("ByID")
	}
	return b.String()
}

func ref(schema string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + schema}
}

func jsonBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content":  map[string]interface{}{"application/json": map[string]interface{}{"schema": ref(schema)}},
	}
}

func schemaResponse(description, schema string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content":     map[string]interface{}{"application/json": map[string]interface{}{"schema": ref(schema)}},
	}
}

func errorResponse(description string) map[string]interface{} {
	return schemaResponse(description, "Error")
}

func pageResponse(schema string) map[string]interface{} {
	return map[string]interface{}{
		"description": "Paginated results",
		"content": map[string]interface{}{"application/json": map[string]interface{}{
			"schema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"data":   map[string]interface{}{"type": "array", "items": ref(schema)},
					"total":  map[string]string{"type": "integer"},
					"limit":  map[string]string{"type": "integer"},
					"offset": map[string]string{"type": "integer"},
				},
			},
		}},
	}
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		sort.Strings(required)
		s["required"] = required
	}
	return s
}

var (
	str      = map[string]string{"type": "string"}
	integer  = map[string]string{"type": "integer"}
	number   = map[string]string{"type": "number"}
	boolean  = map[string]string{"type": "boolean"}
	date     = map[string]string{"type": "string", "format": "date"}
	datetime = map[string]string{"type": "string", "format": "date-time"}
	clock    = map[string]string{"type": "string", "pattern": `^\d{2}:\d{2}(:\d{2})?$`}
	status   = map[string]interface{}{"type": "string", "enum": []string{"scheduled", "attended", "absent", "cancelled"}}
)

func componentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Object": map[string]string{"type": "object"},
		"Error":  object([]string{"message"}, map[string]interface{}{"message": str}),
		"Patient": object([]string{"full_name"}, map[string]interface{}{
			"id": str, "full_name": str, "rut": str, "birth_date": date,
			"phone": str, "email": str, "created_at": datetime,
		}),
		"Professional": object([]string{"full_name"}, map[string]interface{}{
			"id": str, "full_name": str, "specialty": str, "created_at": datetime,
		}),
		"Service": object([]string{"name"}, map[string]interface{}{
			"id": str, "name": str, "duration_minutes": integer, "price": number, "created_at": datetime,
		}),
		"ServiceInput": object([]string{"name"}, map[string]interface{}{
			"name": str, "duration_minutes": integer, "price": number,
		}),
		"Appointment": object(nil, map[string]interface{}{
			"id": str, "patient_id": str, "professional_id": str, "service_id": str,
			"date": date, "start_time": clock, "end_time": clock, "status": status,
			"notes": str, "price": number, "created_at": datetime,
			"patient_name": str, "professional_name": str, "service_name": str,
		}),
		"BookingRequest": object([]string{"patient_id", "professional_id", "service_id", "date", "start_time"}, map[string]interface{}{
			"patient_id": str, "professional_id": str, "service_id": str,
			"date": date, "start_time": clock, "duration_minutes": integer, "notes": str,
		}),
		"StatusChange": object([]string{"status"}, map[string]interface{}{"id": str, "status": status}),
		"DayView": object(nil, map[string]interface{}{
			"date": date, "block_minutes": integer,
			"slots":        map[string]interface{}{"type": "array", "items": str},
			"appointments": map[string]interface{}{"type": "array", "items": ref("Appointment")},
		}),
		"Report": object(nil, map[string]interface{}{
			"from": date, "to": date, "empty": boolean, "total": integer,
			"attended": integer, "cancelled": integer, "absent": integer, "revenue": number,
			"daily": map[string]interface{}{"type": "array", "items": object(nil, map[string]interface{}{"date": date, "count": integer})},
			"occupancy": object(nil, map[string]interface{}{
				"percent": number, "used": integer, "available": integer, "slots_per_day": integer,
			}),
			"top_professionals": map[string]interface{}{"type": "array", "items": object(nil, map[string]interface{}{"name": str, "count": integer})},
		}),
		"Login": object([]string{"passphrase"}, map[string]interface{}{"email": str, "passphrase": str}),
		"Session": object(nil, map[string]interface{}{"token": str, "email": str, "expires_at": datetime}),
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Clinic Agenda API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/openapi.json", dom_id: "#swagger-ui" })
  </script>
</body>
</html>`

// RegisterRoutes serves the document and a Swagger UI page.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	e.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
