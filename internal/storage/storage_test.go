package storage

import (
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		driver  string
		dsn     string
		wantNil bool
		wantErr bool
	}{
		{driver: "", wantNil: true},
		{driver: DriverNone, wantNil: true},
		{driver: DriverMemory},
		{driver: DriverSQLite, dsn: filepath.Join(t.TempDir(), "s.db")},
		{driver: DriverSQLite, wantErr: true},
		{driver: "postgres", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			store, err := Open(tt.driver, tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (store == nil) != tt.wantNil {
				t.Fatalf("Open() store = %v, wantNil %v", store, tt.wantNil)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}
