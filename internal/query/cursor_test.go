package query

import "testing"

func TestParseActivityCursor(t *testing.T) {
	tests := []struct {
		name    string
		cursor  string
		wantSeq int64
		wantID  string
		wantErr bool
	}{
		{name: "valid", cursor: "42:8f14e45f-ceea-4673-9a2f-5d3c1b2a0f77", wantSeq: 42, wantID: "8f14e45f-ceea-4673-9a2f-5d3c1b2a0f77"},
		{name: "no separator", cursor: "42", wantErr: true},
		{name: "bad sequence", cursor: "abc:8f14e45f", wantErr: true},
		{name: "empty id kept", cursor: "7:", wantSeq: 7, wantID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, id, err := parseActivityCursor(tt.cursor)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseActivityCursor(%q) succeeded, want error", tt.cursor)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseActivityCursor(%q): %v", tt.cursor, err)
			}
			if seq != tt.wantSeq || id != tt.wantID {
				t.Errorf("parseActivityCursor(%q) = (%d, %q), want (%d, %q)",
					tt.cursor, seq, id, tt.wantSeq, tt.wantID)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: 0, want: defaultPageSize},
		{in: -3, want: defaultPageSize},
		{in: 25, want: 25},
		{in: maxPageSize, want: maxPageSize},
		{in: maxPageSize + 1, want: maxPageSize},
	}

	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
