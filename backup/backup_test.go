package backup_test

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera"
	"github.com/syssam/tessera/backup"
	"github.com/syssam/tessera/store"
	"github.com/syssam/tessera/store/codec"
	"github.com/syssam/tessera/store/memory"
)

var now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// seed stores n documents and one folder holding them, and updates the
// first document once.
func seed(t *testing.T, n int) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	uow, err := s.NewUnitOfWork(ctx, tessera.DefaultUsecase, now)
	require.NoError(t, err)
	defer uow.Discard()
	folder, err := uow.NewState(ctx, tessera.NewReference("Folder", "f"), nil)
	require.NoError(t, err)
	states := []*store.EntityState{folder}
	for i := range n {
		ref := tessera.NewReference("Doc", string(rune('a'+i)))
		st, err := uow.NewState(ctx, ref, nil)
		require.NoError(t, err)
		require.NoError(t, st.SetProperty("title", "doc "+ref.ID))
		_, err = folder.AddManyAssociation("docs", -1, ref)
		require.NoError(t, err)
		states = append(states, st)
	}
	_, err = uow.ApplyChanges(ctx, states)
	require.NoError(t, err)

	st, err := uow.LoadState(ctx, tessera.NewReference("Doc", "a"))
	require.NoError(t, err)
	require.NoError(t, st.SetProperty("title", "revised"))
	_, err = uow.ApplyChanges(ctx, []*store.EntityState{st})
	require.NoError(t, err)
	return s
}

func dump(t *testing.T, it store.Iterator) map[tessera.Reference]*store.EntityState {
	t.Helper()
	got := make(map[tessera.Reference]*store.EntityState)
	require.NoError(t, it.EntityStates(context.Background(), func(st *store.EntityState) error {
		got[st.Reference] = st
		return nil
	}))
	return got
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for _, c := range []codec.Codec{codec.JSON{}, codec.MsgPack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			src := seed(t, 5)
			sink, err := backup.NewFileSink(t.TempDir())
			require.NoError(t, err)

			name := backup.Name(now, c)
			sum, err := backup.Export(ctx, src, sink, name, backup.WithCodec(c), backup.WithClock(func() time.Time { return now }))
			require.NoError(t, err)
			assert.Equal(t, 6, sum.Entities)
			assert.Equal(t, map[string]int{"Doc": 5, "Folder": 1}, sum.Types)
			assert.Equal(t, c.Name(), sum.Codec)

			dst := memory.New()
			got, err := backup.Import(ctx, dst, sink, name, backup.WithBatchSize(2))
			require.NoError(t, err)
			assert.Equal(t, sum.Entities, got.Entities)
			assert.Equal(t, sum.Types, got.Types)

			want := dump(t, src)
			restored := dump(t, dst)
			require.Len(t, restored, len(want))
			for ref, st := range want {
				r := restored[ref]
				require.NotNil(t, r, ref.String())
				assert.Equal(t, st.Version, r.Version, ref.String())
				assert.True(t, st.LastModified.Equal(r.LastModified), ref.String())
				assert.Equal(t, st.Properties["title"], r.Properties["title"], ref.String())
				assert.Equal(t, st.ManyAssociations, r.ManyAssociations, ref.String())
			}
			assert.Equal(t, "2", restored[tessera.NewReference("Doc", "a")].Version)

			sum2, h, err := backup.Inspect(ctx, sink, name)
			require.NoError(t, err)
			assert.Equal(t, 6, sum2.Entities)
			assert.Equal(t, backup.Format, h.Format)
			assert.True(t, now.Equal(h.CreatedAt))
		})
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tessera-20260401T100000Z.jsonl", backup.Name(now, codec.JSON{}))
	assert.Equal(t, "tessera-20260401T100000Z.mpk", backup.Name(now.In(time.FixedZone("X", 3600)), codec.MsgPack{}))
}

func TestLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink, err := backup.NewFileSink(t.TempDir())
	require.NoError(t, err)
	_, err = backup.Latest(ctx, sink)
	assert.Error(t, err)

	src := seed(t, 1)
	for _, at := range []time.Time{now, now.Add(time.Hour), now.Add(-time.Hour)} {
		_, err := backup.Export(ctx, src, sink, backup.Name(at, codec.MsgPack{}))
		require.NoError(t, err)
	}
	name, err := backup.Latest(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, "tessera-20260401T110000Z.mpk", name)
}

func TestFileSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	sink, err := backup.NewFileSink(root)
	require.NoError(t, err)

	for _, name := range []string{"", "/etc/passwd", "../escape", "a/../../b"} {
		_, err := sink.Create(ctx, name)
		assert.Error(t, err, name)
	}

	w, err := sink.Create(ctx, "daily/one")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	names, err := sink.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "unclosed archives are not visible")
	require.NoError(t, w.Close())

	names, err = sink.List(ctx, "daily/")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/one"}, names)
	b, err := os.ReadFile(filepath.Join(root, "daily", "one"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	_, err = sink.Open(ctx, "daily/two")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReaderErrors(t *testing.T) {
	t.Parallel()
	_, err := backup.NewReader(strings.NewReader("hello\n"))
	assert.EqualError(t, err, "backup: not a tessera archive")
	_, err = backup.NewReader(strings.NewReader(`{"format":"tessera-archive","version":2,"codec":"json"}` + "\n"))
	assert.EqualError(t, err, "backup: unsupported archive version 2")
	_, err = backup.NewReader(strings.NewReader(`{"format":"tessera-archive","version":1,"codec":"gob"}` + "\n"))
	assert.Error(t, err)

	var buf bytes.Buffer
	w, err := backup.NewWriter(&buf, codec.MsgPack{}, now)
	require.NoError(t, err)
	st := store.NewEntityState(tessera.NewReference("Doc", "a"), store.StatusLoaded)
	st.Version = "1"
	require.NoError(t, w.Write(st))
	require.NoError(t, w.Flush())
	assert.Equal(t, 1, w.Len())

	r, err := backup.NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	require.NoError(t, err)
	_, err = r.Read()
	assert.ErrorContains(t, err, "truncated archive")
}
