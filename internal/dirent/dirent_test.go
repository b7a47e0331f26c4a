package dirent

import (
	"reflect"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	entries := []Entry{
		{Name: "alpha", IsDir: false, Size: 100, Ctime: 111},
		{Name: "beta", IsDir: true, Size: 0, Ctime: 222},
		{Name: "gamma-longer-name", IsDir: false, Size: 999999, Ctime: 333},
	}
	buf := Pack(entries)
	got, err := Unpack(buf, len(entries))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Errorf("got %+v, want %+v", got, entries)
	}
}

func TestPackUnpackEmpty(t *testing.T) {
	buf := Pack(nil)
	got, err := Unpack(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %v", got)
	}
}

func TestUnpackTooShort(t *testing.T) {
	if _, err := Unpack([]byte{1, 2}, 5); err == nil {
		t.Fatal("expected an error for a truncated buffer")
	}
}
