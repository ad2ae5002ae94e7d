package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	log, err := Open(path)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Append(Record{Time: time.Now(), Op: "PUT", Region: "us-east", Key: "k1", Size: 5, Origin: "client"}))
	require.NoError(t, log.Append(Record{Time: time.Now(), Op: "DELETE", Region: "us-east", Key: "k1", Origin: "client"}))

	records, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "PUT", records[0].Op)
	require.Equal(t, "DELETE", records[1].Op)
}

func TestNilLogIsNoOp(t *testing.T) {
	var log *Log
	require.NoError(t, log.Append(Record{Op: "PUT"}))
	require.NoError(t, log.Close())
	records, err := log.ReadAll()
	require.NoError(t, err)
	require.Nil(t, records)
}
