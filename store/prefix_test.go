package store

import (
	"io"
	"sort"
	"testing"
)

// TestPrefixSmoke exercises NewWithPrefix directly, the way
// NewResolverStore builds on it: a prefixed view sharing one underlying
// store with an unprefixed key sees only its own keys, while the
// underlying store lists every key, prefixed ones included.
func TestPrefixSmoke(t *testing.T) {
	var prefixlists = []struct {
		input  string
		result []string
	}{
		{"", []string{"abc", "zed"}},
		{"a", []string{"abc"}},
		{"b", []string{}},
		{"z", []string{"zed"}},
	}
	m := NewMemory()
	ps := NewWithPrefix(m, "z")

	add(t, ps, "abc", "text 1")
	add(t, ps, "zed", "text 2")

	// add one directly to the underlying store, outside ps's namespace
	add(t, m, "qwerty", "text 3")

	for _, test := range prefixlists {
		t.Logf("doing prefix '%s'", test.input)
		ids, err := ps.ListPrefix(test.input)
		if err != nil {
			t.Errorf("Received error %s", err.Error())
		}
		sort.Strings(ids)
		if !equal(ids, test.result) {
			t.Errorf("Received ids %v", ids)
		}
	}

	ids, err := m.ListPrefix("")
	if err != nil {
		t.Errorf("Received error %s", err.Error())
	}
	sort.Strings(ids)
	want := []string{"qwerty", "zabc", "zzed"}
	if !equal(ids, want) {
		t.Errorf("Received ids %v", ids)
	}
}

// TestNewResolverStoreNamespacesAwayFromVolumes confirms a resolver's
// records and an image stream's volume blobs can share one Memory
// store under their own namespaces without colliding: a resolver
// record and a volume blob stored under the same name each read back
// their own contents.
func TestNewResolverStoreNamespacesAwayFromVolumes(t *testing.T) {
	shared := NewMemory()
	resolverView := NewResolverStore(shared)

	add(t, shared, "urn:aff4:image1", "volume bytes")
	add(t, resolverView, "urn:aff4:image1", `{"aff4:chunk_size":"32768"}`)

	raw, _, err := shared.Open(ResolverPrefix + "urn:aff4:image1")
	if err != nil {
		t.Fatalf("Open() of namespaced key == %s, expected nil", err.Error())
	}
	defer raw.Close()
	got, err := io.ReadAll(NewReader(raw))
	if err != nil {
		t.Fatalf("ReadAll() == %s, expected nil", err.Error())
	}
	if string(got) != `{"aff4:chunk_size":"32768"}` {
		t.Fatalf("resolver record == %q, unexpected contents", got)
	}

	volumeRaw, _, err := shared.Open("urn:aff4:image1")
	if err != nil {
		t.Fatalf("Open() of volume key == %s, expected nil", err.Error())
	}
	defer volumeRaw.Close()
	gotVolume, err := io.ReadAll(NewReader(volumeRaw))
	if err != nil {
		t.Fatalf("ReadAll() == %s, expected nil", err.Error())
	}
	if string(gotVolume) != "volume bytes" {
		t.Fatalf("volume bytes == %q, unexpected contents, resolver and volume namespaces collided", gotVolume)
	}
}

func add(t *testing.T, s Store, id string, data string) {
	t.Logf("add(%s,%.10s)", id, data)
	w, err := s.Create(id)
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
	_, err = w.Write([]byte(data))
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
}
