package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/version"
)

func recipeNamed(name, ver string) recipe.Recipe {
	return recipe.Recipe{Name: name, Version: ver}
}

func TestHTTPSupplier(t *testing.T) {
	var infoRequests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/packages/widget/info":
			infoRequests++
			w.Write([]byte(`{"versions": [
				{"version": "1.0.0", "recipe": {"name": "widget", "version": "1.0.0"}},
				{"version": "1.2.0", "recipe": {"name": "widget", "version": "1.2.0"}},
				{"version": "nonsense", "recipe": {}}
			]}`))
		case "/packages/widget/1.2.0.zip":
			w.Write([]byte("PK\x03\x04stub"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewHTTPSupplier(srv.URL, log.NewNoop())
	require.NoError(t, err)
	ctx := context.Background()

	vs, err := s.Versions(ctx, "widget")
	require.NoError(t, err)
	assert.Len(t, vs, 2, "only the parsable versions should survive")

	r, err := s.FetchRecipe(ctx, "widget", version.MustParse("1.2.0"))
	require.NoError(t, err)
	assert.Equal(t, "widget", r.Name)
	assert.Equal(t, "1.2.0", r.Version)

	// The info response is cached per package.
	_, err = s.Versions(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, 1, infoRequests, "info response should be cached")

	_, err = s.Versions(ctx, "nope")
	var unknown *UnknownPackageError
	require.ErrorAs(t, err, &unknown)

	dir := t.TempDir()
	archive, err := s.FetchArchive(ctx, "widget", version.MustParse("1.2.0"), dir)
	require.NoError(t, err)
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestMemorySupplier(t *testing.T) {
	s := NewMemorySupplier("test")
	s.Add(recipeNamed("thing", "1.0.0"))
	s.Add(recipeNamed("thing", "2.0.0"))

	vs, err := s.Versions(context.Background(), "thing")
	require.NoError(t, err)
	assert.Len(t, vs, 2)

	_, err = s.FetchRecipe(context.Background(), "thing", version.MustParse("2.0.0"))
	assert.NoError(t, err)

	_, err = s.Versions(context.Background(), "ghost")
	assert.Error(t, err)
}
