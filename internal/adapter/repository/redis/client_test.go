package redis

import "testing"

func TestNewClient(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantDB  int
		wantErr bool
	}{
		{addr: "localhost:6379", want: "localhost:6379"},
		{addr: "redis://cache:6380/2", want: "cache:6380", wantDB: 2},
		{addr: "redis://[bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			defer c.Close()
			if c.Options().Addr != tt.want || c.Options().DB != tt.wantDB {
				t.Errorf("options = %s db %d, want %s db %d", c.Options().Addr, c.Options().DB, tt.want, tt.wantDB)
			}
		})
	}
}
