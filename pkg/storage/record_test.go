package storage

import "testing"

func TestListOptions_PageLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{0, 20},
		{-3, 20},
		{5, 5},
		{100, 100},
		{500, 100},
	}
	for _, tt := range tests {
		if got := (ListOptions{Limit: tt.limit}).PageLimit(); got != tt.want {
			t.Errorf("PageLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestNewRecordList(t *testing.T) {
	empty := NewRecordList(nil, false)
	if empty.Object != "list" || empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("empty list = %+v", empty)
	}

	l := NewRecordList([]*Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}, true)
	if l.FirstID != "a" || l.LastID != "c" || !l.HasMore {
		t.Errorf("list = %+v", l)
	}
}
