package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/recipe"
	"github.com/dub-build/dub/internal/version"
)

// maxResponseSize bounds registry responses so a misbehaving server
// cannot exhaust memory.
const maxResponseSize = 16 * 1024 * 1024

// HTTPSupplier speaks the registry JSON API:
//
//	GET <base>/api/packages/<name>/info          all versions + recipes
//	GET <base>/packages/<name>/<version>.zip     package archive
type HTTPSupplier struct {
	base   *url.URL
	client *http.Client
	logger log.Logger

	infoCache map[string]*packageInfo
}

type packageInfo struct {
	Versions []packageVersionInfo `json:"versions"`
}

type packageVersionInfo struct {
	Version string          `json:"version"`
	Recipe  json.RawMessage `json:"recipe"`
}

// NewHTTPSupplier creates a supplier for the registry at baseURL.
func NewHTTPSupplier(baseURL string, logger log.Logger) (*HTTPSupplier, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL %q: %w", baseURL, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPSupplier{
		base:      u,
		client:    newHTTPClient(),
		logger:    logger,
		infoCache: make(map[string]*packageInfo),
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func (s *HTTPSupplier) Name() string {
	return fmt.Sprintf("registry at %s", s.base)
}

func (s *HTTPSupplier) info(ctx context.Context, name string) (*packageInfo, error) {
	if cached, ok := s.infoCache[name]; ok {
		return cached, nil
	}
	u := *s.base
	u.Path = u.Path + "/api/packages/" + url.PathEscape(name) + "/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &UnknownPackageError{Name: name}
	default:
		return nil, fmt.Errorf("registry returned status %d for %s", resp.StatusCode, name)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response: %w", err)
	}
	var info packageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("malformed registry response for %s: %w", name, err)
	}
	s.infoCache[name] = &info
	return &info, nil
}

func (s *HTTPSupplier) Versions(ctx context.Context, name string) ([]version.Version, error) {
	info, err := s.info(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]version.Version, 0, len(info.Versions))
	for _, vi := range info.Versions {
		v, err := version.Parse(vi.Version)
		if err != nil {
			s.logger.Debug("skipping unparsable registry version", "package", name, "version", vi.Version)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *HTTPSupplier) FetchRecipe(ctx context.Context, name string, v version.Version) (recipe.Recipe, error) {
	info, err := s.info(ctx, name)
	if err != nil {
		return recipe.Recipe{}, err
	}
	for _, vi := range info.Versions {
		if vi.Version != v.String() {
			continue
		}
		r, err := recipe.Parse(vi.Recipe, name+".json", "", s.logger)
		if err != nil {
			return recipe.Recipe{}, err
		}
		if r.Version == "" {
			r.Version = v.String()
		}
		return r, nil
	}
	return recipe.Recipe{}, &UnknownPackageError{Name: fmt.Sprintf("%s %s", name, v)}
}

func (s *HTTPSupplier) FetchArchive(ctx context.Context, name string, v version.Version, destDir string) (string, error) {
	u := *s.base
	u.Path = u.Path + "/packages/" + url.PathEscape(name) + "/" + url.PathEscape(v.String()) + ".zip"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("archive download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d for %s %s archive", resp.StatusCode, name, v)
	}

	dest := filepath.Join(destDir, fmt.Sprintf("%s-%s.zip", name, v))
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("archive download failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dest, nil
}
