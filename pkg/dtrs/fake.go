package dtrs

import "context"

// FakeResolver is an in-memory DeployableTypeResolver for Provisioner
// tests.
type FakeResolver struct {
	Documents map[string]string
}

// NewFakeResolver returns a resolver that always answers with doc,
// regardless of the requested deployable type, unless an explicit entry
// is registered in Documents.
func NewFakeResolver(doc string) *FakeResolver {
	return &FakeResolver{Documents: map[string]string{"": doc}}
}

func (r *FakeResolver) Resolve(ctx context.Context, deployableType string) (string, *ClusterDocument, error) {
	raw, ok := r.Documents[deployableType]
	if !ok {
		raw = r.Documents[""]
	}
	parsed, err := ParseDocument(raw)
	if err != nil {
		parsed = &ClusterDocument{}
	}
	return raw, parsed, nil
}
