package catalog

// sync.go ingests repository index documents into the catalog.
// an index is a stream of YAML documents, one package per document:
//
//	apiVersion: skipper.spring.io/v1
//	kind: SkipperPackageMetadata
//	name: log
//	version: 1.0.0
//	tags: logging, sink
//	---
//	name: log2
//	version: 1.0.1
//
// sources are either local file paths or http(s) URLs.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/juju/retry"
	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// SyncResult counts what a Sync call did.
type SyncResult struct {
	Added   int
	Skipped int
}

// tagList accepts both a YAML sequence and the comma separated string form
// ("logging, sink") that older indexes use.
type tagList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (tags *tagList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var parsed []string
		for _, tag := range strings.Split(value.Value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				parsed = append(parsed, tag)
			}
		}
		*tags = parsed
		return nil
	}
	var sequence []string
	if err := value.Decode(&sequence); err != nil {
		return err
	}
	*tags = sequence
	return nil
}

// indexEntry is one YAML document of a repository index.
type indexEntry struct {
	APIVersion  string  `yaml:"apiVersion"`
	Origin      string  `yaml:"origin"`
	Kind        string  `yaml:"kind"`
	Name        string  `yaml:"name"`
	Version     string  `yaml:"version"`
	Description string  `yaml:"description"`
	Maintainer  string  `yaml:"maintainer"`
	Tags        tagList `yaml:"tags"`
	Resource    string  `yaml:"resource"`
	SHA256      string  `yaml:"sha256"`
}

func (entry indexEntry) isEmpty() bool {
	return entry.APIVersion == "" && entry.Origin == "" && entry.Kind == "" &&
		entry.Name == "" && entry.Version == "" && entry.Description == "" &&
		entry.Maintainer == "" && len(entry.Tags) == 0 && entry.Resource == "" && entry.SHA256 == ""
}

// ParseIndex decodes every document of an index stream.
// entries without an explicit origin get the given default origin (the source they came from).
func ParseIndex(reader io.Reader, defaultOrigin string) ([]models.PackageMetadata, error) {
	decoder := yaml.NewDecoder(reader)

	var packages []models.PackageMetadata
	for documentIndex := 0; ; documentIndex++ {
		var entry indexEntry
		err := decoder.Decode(&entry)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode index document %d: %w", documentIndex, err)
		}
		// "---" at the very end of a file produces an empty document
		if entry.isEmpty() {
			continue
		}
		if entry.Name == "" || entry.Version == "" {
			return nil, fmt.Errorf("index document %d: %w: name and version are required", documentIndex, models.ErrValidation)
		}
		if entry.Origin == "" {
			entry.Origin = defaultOrigin
		}

		packages = append(packages, models.PackageMetadata{
			APIVersion:  entry.APIVersion,
			Origin:      entry.Origin,
			Kind:        entry.Kind,
			Name:        entry.Name,
			Version:     entry.Version,
			Description: entry.Description,
			Maintainer:  entry.Maintainer,
			Tags:        []string(entry.Tags),
			Resource:    entry.Resource,
			SHA256:      entry.SHA256,
		})
	}
	return packages, nil
}

// Sync loads every source and publishes the packages that are not already known.
// a failing source is logged and reported in the returned error, the remaining sources are still synced.
func (catalog *Catalog) Sync(ctx context.Context, sources ...string) (SyncResult, error) {
	var result SyncResult
	var sourceErrors []error

	for _, source := range sources {
		sourceResult, err := catalog.syncSource(ctx, source)
		result.Added += sourceResult.Added
		result.Skipped += sourceResult.Skipped
		if err != nil {
			catalog.logger.Error("failed to sync package index", "source", source, "error", err)
			sourceErrors = append(sourceErrors, fmt.Errorf("index %q: %w", source, err))
		}
	}

	catalog.logger.Info("package index sync finished",
		"sources", len(sources),
		"added", result.Added,
		"skipped", result.Skipped,
	)
	return result, errors.Join(sourceErrors...)
}

func (catalog *Catalog) syncSource(ctx context.Context, source string) (SyncResult, error) {
	var result SyncResult

	content, err := catalog.readSource(ctx, source)
	if err != nil {
		return result, err
	}

	packages, err := ParseIndex(strings.NewReader(string(content)), source)
	if err != nil {
		return result, err
	}

	for _, metadata := range packages {
		_, err := catalog.Publish(ctx, metadata)
		if errors.Is(err, models.ErrRecordExists) {
			// published packages are immutable, a changed index never rewrites them
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}
		result.Added++
	}
	return result, nil
}

// readSource returns the raw index bytes of a file path or an http(s) URL.
func (catalog *Catalog) readSource(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		content, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read index file: %w", err)
		}
		return content, nil
	}

	var content []byte
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var fetchErr error
			content, fetchErr = catalog.fetch(ctx, source)
			return fetchErr
		},
		IsFatalError: func(err error) bool {
			var status *statusError
			// 4xx answers will not change on retry, neither will a cancelled context
			return errors.As(err, &status) && status.code < http.StatusInternalServerError ||
				ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			catalog.logger.Warn("index fetch failed, retrying", "source", source, "attempt", attempt, "error", err)
		},
		Attempts:    catalog.fetchAttempts,
		Delay:       catalog.fetchDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       catalog.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) {
			err = retry.LastError(err)
		}
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	return content, nil
}

type statusError struct {
	code int
}

func (err *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", err.code, http.StatusText(err.code))
}

func (catalog *Catalog) fetch(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	response, err := catalog.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, &statusError{code: response.StatusCode}
	}
	return io.ReadAll(response.Body)
}
