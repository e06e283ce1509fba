package repository

import (
	"errors"
	"testing"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"!", "!", false},
		{"  ?? ", "??", false},
		{"音乐", "音乐", false},
		{"", "", true},
		{"a b", "", true},
		{"123456789", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizePrefix(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPrefix) {
				t.Errorf("NormalizePrefix(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizePrefix(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestIDListHelpers(t *testing.T) {
	var list model.IDList
	list = AddID(list, "a")
	list = AddID(list, "b")
	list = AddID(list, "a")
	list = AddID(list, "")
	if len(list) != 2 {
		t.Fatalf("list = %v", list)
	}
	list = RemoveID(list, "a")
	if len(list) != 1 || list[0] != "b" {
		t.Fatalf("list = %v", list)
	}
	if got := RemoveID(list, "missing"); len(got) != 1 {
		t.Fatalf("list = %v", got)
	}
}

func TestIDListColumn(t *testing.T) {
	v, err := model.IDList{"1", "2"}.Value()
	if err != nil || v != `["1","2"]` {
		t.Fatalf("value = %v %v", v, err)
	}
	var back model.IDList
	if err := back.Scan([]byte(`["1","2"]`)); err != nil || len(back) != 2 {
		t.Fatalf("scan = %v %v", back, err)
	}
	if err := back.Scan(nil); err != nil || back != nil {
		t.Fatalf("scan nil = %v %v", back, err)
	}
}
