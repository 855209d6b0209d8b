// Package dtrs resolves a deployable type name into a concrete cluster
// document, the template used to derive each node's boot configuration.
package dtrs

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	epuerrors "github.com/luispineda/epu/pkg/errors"
)

// ClusterDocument is the parsed form of a deployable type's cluster XML.
// The wire format has no analogue in the retrieval pack's Go repos, so it
// is parsed with the standard library rather than a third-party library.
type ClusterDocument struct {
	XMLName    xml.Name    `xml:"cluster"`
	Workspaces []Workspace `xml:"workspace"`
}

// Workspace is one ctx_name group within a cluster document: a set of
// identically-configured nodes sharing a boot image and quantity.
type Workspace struct {
	Name     string `xml:"name"`
	Image    string `xml:"image"`
	Quantity int    `xml:"quantity"`
	Site     string `xml:"site"`
}

// Resolver resolves deployable type names to cluster documents, caching
// responses so repeated launches of the same type don't round-trip the
// resolver on every call.
type Resolver struct {
	endpoint string
	http     *http.Client
	cache    *cache.Cache
}

// NewResolver builds a Resolver against a DTRS endpoint, caching
// responses for ttl.
func NewResolver(endpoint string, ttl time.Duration) *Resolver {
	return &Resolver{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		cache:    cache.New(ttl, ttl*2),
	}
}

// Resolve returns the raw cluster XML document and its parsed form for
// deployableType.
func (r *Resolver) Resolve(ctx context.Context, deployableType string) (string, *ClusterDocument, error) {
	if cached, ok := r.cache.Get(deployableType); ok {
		entry := cached.(cachedDoc)
		return entry.raw, entry.parsed, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/deployable-types/"+deployableType, nil)
	if err != nil {
		return "", nil, epuerrors.DeployableTypeLookup(err, "build request for %s", deployableType)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", nil, epuerrors.DeployableTypeLookup(err, "resolve %s", deployableType)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, epuerrors.DeployableTypeLookup(fmt.Errorf("status 404"), "deployable type %s not found", deployableType)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, epuerrors.DeployableTypeLookup(fmt.Errorf("status %d", resp.StatusCode), "resolve %s", deployableType)
	}

	var doc ClusterDocument
	decoder := xml.NewDecoder(resp.Body)
	if err := decoder.Decode(&doc); err != nil {
		return "", nil, epuerrors.DeployableTypeLookup(err, "parse cluster document for %s", deployableType)
	}

	raw, err := xml.Marshal(&doc)
	if err != nil {
		return "", nil, epuerrors.DeployableTypeLookup(err, "re-marshal cluster document for %s", deployableType)
	}

	r.cache.Set(deployableType, cachedDoc{raw: string(raw), parsed: &doc}, cache.DefaultExpiration)
	return string(raw), &doc, nil
}

type cachedDoc struct {
	raw    string
	parsed *ClusterDocument
}

// ParseDocument parses a raw cluster XML document, as stored verbatim on
// a Launch record.
func ParseDocument(raw string) (*ClusterDocument, error) {
	var doc ClusterDocument
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, epuerrors.Invalid("malformed cluster document: %v", err)
	}
	return &doc, nil
}
