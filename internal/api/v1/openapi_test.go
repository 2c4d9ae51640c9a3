package apiv1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentPath = "../../../public/docs/v1/openapi.yml"

var pathParam = regexp.MustCompile(`:([A-Za-z_]+)`)

func TestDocumentIsValid(t *testing.T) {
	doc, err := LoadDocument(context.Background(), documentPath)
	require.NoError(t, err)
	assert.Equal(t, "ServiceBoard API", doc.Info.Title)
}

func TestEveryRouteIsDocumented(t *testing.T) {
	doc, err := LoadDocument(context.Background(), documentPath)
	require.NoError(t, err)

	app := fiber.New()
	RegisterHandlers(app.Group("/api/v1"), &APIServer{}, Guards{
		Account:  passThrough,
		Operator: passThrough,
	})

	seen := 0
	for _, r := range app.GetRoutes(true) {
		if r.Method == http.MethodHead || !strings.HasPrefix(r.Path, "/api/v1/") {
			continue
		}
		path := pathParam.ReplaceAllString(strings.TrimPrefix(r.Path, "/api/v1"), "{$1}")
		item := doc.Paths.Value(path)
		if !assert.NotNil(t, item, "path %s is not documented", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "%s %s is not documented", r.Method, path)
		seen++
	}
	assert.Greater(t, seen, 30)
}

func TestPingHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/ping", (&APIServer{}).GetPing)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

