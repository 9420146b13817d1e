package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	for _, ch := range code {
		assert.True(t, strings.ContainsRune(codeChars, ch), "unexpected char %q", ch)
	}
}

func TestCreateReturnsDistinctCodes(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := r.Create(fmt.Sprintf("host-%d", i))
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Equal(t, 500, r.Len())
}

func TestCreateRetriesOnCollision(t *testing.T) {
	r := New(WithCodeGenerator(sequence("AAAAAAA", "AAAAAAA", "BBBBBBB")))

	first, err := r.Create("a")
	require.NoError(t, err)
	second, err := r.Create("b")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAA", first)
	assert.Equal(t, "BBBBBBB", second)
}

func TestCreateExhausted(t *testing.T) {
	r := New(WithCodeGenerator(sequence("AAAAAAA")))

	_, err := r.Create("a")
	require.NoError(t, err)

	_, err = r.Create("b")
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 1, r.Len())
	_, in := r.RoomOf("b")
	assert.False(t, in)
}

func TestCreateGeneratorError(t *testing.T) {
	boom := errors.New("entropy")
	r := New(WithCodeGenerator(func() (string, error) { return "", boom }))

	_, err := r.Create("a")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.Len())
}

func TestCreateWhileMember(t *testing.T) {
	r := New()
	_, err := r.Create("a")
	require.NoError(t, err)

	_, err = r.Create("a")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestJoinAndPeersOf(t *testing.T) {
	r := New()
	code, err := r.Create("c1")
	require.NoError(t, err)

	res, err := r.Join(code, "c2")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Peers)
	assert.False(t, res.AlreadyMember)

	assert.Equal(t, []string{"c2"}, r.PeersOf(code, "c1"))
	assert.Equal(t, []string{"c1"}, r.PeersOf(code, "c2"))
}

func TestJoinNormalizesCode(t *testing.T) {
	r := New(WithCodeGenerator(sequence("ROOM123")))
	code, err := r.Create("c1")
	require.NoError(t, err)

	res, err := r.Join("  room123 ", "c2")
	require.NoError(t, err)
	assert.Equal(t, code, res.Code)
}

func TestJoinUnknownRoomHasNoSideEffect(t *testing.T) {
	r := New()

	_, err := r.Join("NOPE123", "c1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, r.Len())
	_, ok := r.Lookup("NOPE123")
	assert.False(t, ok)
	_, in := r.RoomOf("c1")
	assert.False(t, in)
}

func TestJoinIsIdempotent(t *testing.T) {
	r := New()
	code, err := r.Create("c1")
	require.NoError(t, err)

	_, err = r.Join(code, "c2")
	require.NoError(t, err)
	again, err := r.Join(code, "c2")
	require.NoError(t, err)

	assert.True(t, again.AlreadyMember)
	info, ok := r.Lookup(code)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"c1", "c2"}, info.Members)
}

func TestJoinSecondRoomRejected(t *testing.T) {
	r := New()
	first, err := r.Create("c1")
	require.NoError(t, err)
	second, err := r.Create("c2")
	require.NoError(t, err)

	_, err = r.Join(second, "c1")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	code, _ := r.RoomOf("c1")
	assert.Equal(t, first, code)
	assert.Empty(t, r.PeersOf(second, "c2"))
}

func TestLeaveLastMemberDeletesRoom(t *testing.T) {
	r := New()
	code, err := r.Create("c1")
	require.NoError(t, err)

	res, ok := r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, code, res.Code)
	assert.True(t, res.Closed)
	assert.Empty(t, res.Remaining)

	_, err = r.Join(code, "c2")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, r.Len())
}

func TestLeaveWithRemainingMembers(t *testing.T) {
	r := New()
	code, err := r.Create("c1")
	require.NoError(t, err)
	_, err = r.Join(code, "c2")
	require.NoError(t, err)
	_, err = r.Join(code, "c3")
	require.NoError(t, err)

	res, ok := r.Leave("c1")
	require.True(t, ok)
	assert.False(t, res.Closed)
	assert.Equal(t, []string{"c2", "c3"}, res.Remaining)

	joined, err := r.Join(code, "c4")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, joined.Peers)
}

func TestLeaveUnknownConnection(t *testing.T) {
	r := New()
	_, ok := r.Leave("ghost")
	assert.False(t, ok)
}

func TestPeersOfAbsentRoom(t *testing.T) {
	r := New()
	assert.Empty(t, r.PeersOf("ABCDEFG", "x"))
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := New()
	code, err := r.Create("host")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := r.Join(code, id); err != nil {
				t.Errorf("join %s: %v", id, err)
				return
			}
			_ = r.PeersOf(code, id)
			r.Leave(id)
		}(fmt.Sprintf("peer-%d", i))
	}
	wg.Wait()

	assert.Equal(t, []string{"host"}, r.PeersOf(code, ""))

	_, ok := r.Leave("host")
	require.True(t, ok)
	assert.Zero(t, r.Len())
}

func TestConcurrentLastLeaversDeleteRoom(t *testing.T) {
	r := New()
	code, err := r.Create("a")
	require.NoError(t, err)
	_, err = r.Join(code, "b")
	require.NoError(t, err)

	var wg sync.WaitGroup
	closed := make(chan bool, 2)
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, _ := r.Leave(id)
			closed <- res.Closed
		}(id)
	}
	wg.Wait()
	close(closed)

	count := 0
	for c := range closed {
		if c {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Zero(t, r.Len())
}
