package policy_test

import (
	"fmt"
	"testing"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/policy"
)

func benchPolicy(b *testing.B, rules int) *policy.Policy {
	b.Helper()
	doc := &entities.PolicyConfig{}
	for i := 0; i < rules; i++ {
		doc.Filesystem.Read.Allow = append(doc.Filesystem.Read.Allow, fmt.Sprintf("/srv/app%d/**", i))
		doc.Network.URLs.Allow = append(doc.Network.URLs.Allow, fmt.Sprintf("https://svc%d.internal/**", i))
	}
	doc.Filesystem.Read.Deny = []string{"/srv/app0/secret/**"}
	p, err := policy.NewPolicy(doc,
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
		policy.WithSymlinkResolution(false),
	)
	if err != nil {
		b.Fatal(err)
	}
	return p
}

func BenchmarkNarrowestScope_Path(b *testing.B) {
	p := benchPolicy(b, 50)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.NarrowestScope(entities.KindFileRead, "/srv/app49/data/file.txt")
	}
}

func BenchmarkNarrowestScope_URL(b *testing.B) {
	p := benchPolicy(b, 50)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.NarrowestScope(entities.KindNetworkRequest, "https://svc49.internal/v1/items?id=7")
	}
}

func BenchmarkClassify(b *testing.B) {
	p := benchPolicy(b, 10)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Classify(entities.KindShellExec, "rm -rf /tmp/x")
	}
}
