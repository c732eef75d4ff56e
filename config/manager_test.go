package config

import (
	"reflect"
	"testing"
	"time"
)

func TestManagerUnmarshalConversions(t *testing.T) {
	type target struct {
		Name    string        `config:"name"`
		Count   int           `config:"count"`
		Float   int           `config:"float"`
		Timeout time.Duration `config:"timeout"`
		Secs    time.Duration `config:"secs"`
		List    []string      `config:"list"`
		Port    int           `config:"port"`
		Missing string        `config:"missing"`
	}

	m := NewManager()
	m.Set("name", "edge")
	m.Set("count", "42")
	m.Set("float", 3.0)
	m.Set("timeout", "1500ms")
	m.Set("secs", "20")
	m.Set("list", "a, b,,c")
	m.Set("port", []string{"8080", "9090"})

	got := target{Missing: "dflt"}
	if err := m.Unmarshal("", &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := target{
		Name:    "edge",
		Count:   42,
		Float:   3,
		Timeout: 1500 * time.Millisecond,
		Secs:    20 * time.Second,
		List:    []string{"a", "b", "c"},
		Port:    9090,
		Missing: "dflt",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestManagerUnmarshal(t *testing.T) {
	type target struct {
		Name    string        `config:"name"`
		Port    int           `config:"port"`
		Debug   bool          `config:"debug"`
		Wait    time.Duration `config:"wait"`
		Hosts   []string      `config:"host"`
		Skipped string        `config:"-"`
		Plain   string
	}

	m := NewManager()
	m.Set("srv.name", "edge")
	m.Set("srv.port", "8080")
	m.Set("srv.debug", "yes")
	m.Set("srv.wait", "2s")
	m.Set("srv.host", []interface{}{"a", "b"})
	m.Set("srv.plain", "p")
	m.Set("srv.-", "never")

	var got target
	if err := m.Unmarshal("srv", &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := target{Name: "edge", Port: 8080, Debug: true, Wait: 2 * time.Second, Hosts: []string{"a", "b"}, Plain: "p"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	m.Set("srv.port", "eighty")
	if err := m.Unmarshal("srv", &got); err == nil {
		t.Error("Expected error for non-numeric port")
	}
	if err := m.Unmarshal("srv", got); err == nil {
		t.Error("Expected error for non-pointer target")
	}
}

func TestManagerLoadFromEnv(t *testing.T) {
	t.Setenv("FAST_EDGE_STATIC_DIR", "public")
	t.Setenv("FAST_EDGEX_OTHER", "nope")

	m := NewManager()
	m.LoadFromEnv(EnvPrefix)
	if got, _ := m.Get("static_dir"); got != "public" {
		t.Errorf("Expected public, got %v", got)
	}
	if _, ok := m.Get("other"); ok {
		t.Error("Variables without the exact prefix must be ignored")
	}
}

func TestManagerLoadFromINISections(t *testing.T) {
	path := writeFile(t, "s.ini", "port=1\n[proxy]\nbackend=a:1\nbackend=b:2\n")
	m := NewManager()
	if err := m.LoadFromINI(path); err != nil {
		t.Fatalf("LoadFromINI: %v", err)
	}
	if got, _ := m.Get("port"); got != "1" {
		t.Errorf("Expected port 1, got %v", got)
	}
	if got, _ := m.Get("proxy.backend"); !reflect.DeepEqual(got, []string{"a:1", "b:2"}) {
		t.Errorf("Expected sectioned shadow keys, got %v", got)
	}
}
