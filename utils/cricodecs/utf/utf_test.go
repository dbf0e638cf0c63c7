package utf_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"haruki-cri-audio/utils/cricodecs/utf"
	"haruki-cri-audio/utils/cricodecs/utf/utftest"

	"github.com/stretchr/testify/require"
)

func TestDecodeScalarColumns(t *testing.T) {
	buf := utftest.New("Scalars").
		Column("U8", utf.TypeUInt8).
		Column("I8", utf.TypeInt8).
		Column("U16", utf.TypeUInt16).
		Column("I32", utf.TypeInt32).
		Column("U64", utf.TypeUInt64).
		Column("F32", utf.TypeFloat32).
		Column("F64", utf.TypeFloat64).
		Column("Name", utf.TypeString).
		Row(200, int8(-3), 65000, int32(-70000), uint64(1)<<40, float32(0.5), 2.25, "first").
		Row(1, int8(4), 2, int32(3), uint64(4), float32(-1), -0.125, "second").
		Bytes()

	table, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, "Scalars", table.Name)
	require.Len(t, table.Rows, 2)
	require.Equal(t, uint32(2), table.Header.PageCount)

	r := table.Rows[0]
	require.Equal(t, uint8(200), r["U8"])
	require.Equal(t, int8(-3), r["I8"])
	require.Equal(t, uint16(65000), r["U16"])
	require.Equal(t, int32(-70000), r["I32"])
	require.Equal(t, uint64(1)<<40, r["U64"])
	require.Equal(t, float32(0.5), r["F32"])
	require.Equal(t, 2.25, r["F64"])
	require.Equal(t, "first", r.String("Name"))
	require.Equal(t, -70000, r.Int("I32"))

	r = table.Rows[1]
	require.Equal(t, "second", r.String("Name"))
	require.Equal(t, int8(4), r["I8"])
	require.Equal(t, -0.125, r["F64"])
}

func TestDecodeConstantAndZeroColumns(t *testing.T) {
	buf := utftest.New("Consts").
		Constant("Version", utf.TypeUInt32, 7).
		Constant("Label", utf.TypeString, "shared").
		Zero("Missing", utf.TypeUInt16).
		Column("Index", utf.TypeUInt16).
		Row(0).Row(1).Row(2).
		Bytes()

	table, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	for i, r := range table.Rows {
		require.Equal(t, uint32(7), r["Version"])
		require.Equal(t, "shared", r.String("Label"))
		require.Equal(t, i, r.Int("Index"))
		require.False(t, r.Has("Missing"))
		_, present := r["Missing"]
		require.True(t, present)
	}

	col, ok := table.Column("Version")
	require.True(t, ok)
	require.Equal(t, utf.StorageConstant, col.Storage)
}

func TestDecodeNestedTable(t *testing.T) {
	inner := utftest.New("Inner").
		Column("Value", utf.TypeUInt16).
		Row(11).Row(12).
		Bytes()
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	buf := utftest.New("Outer").
		Column("Child", utf.TypeBlob).
		Column("Payload", utf.TypeBlob).
		Row(inner, raw).
		Bytes()

	table, err := utf.Decode(buf)
	require.NoError(t, err)
	child := table.Rows[0].Table("Child")
	require.NotNil(t, child)
	require.Equal(t, "Inner", child.Name)
	require.Equal(t, 12, child.Row(1).Int("Value"))
	require.Equal(t, inner, table.Rows[0].Bytes("Child"))
	require.Nil(t, table.Rows[0].Table("Payload"))
	require.Equal(t, raw, table.Rows[0].Bytes("Payload"))
}

func TestDecodeBlobAliasesInput(t *testing.T) {
	buf := utftest.New("Alias").
		Column("Data", utf.TypeBlob).
		Row([]byte{1, 2, 3}).
		Bytes()
	table, err := utf.Decode(buf)
	require.NoError(t, err)

	blob := table.Rows[0].Bytes("Data")
	blob[0] = 9
	again, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 2, 3}, again.Rows[0].Bytes("Data"))
}

func TestDecodeIsIdempotent(t *testing.T) {
	buf := utftest.New("Twice").
		Column("A", utf.TypeUInt32).
		Column("B", utf.TypeString).
		Row(1, "x").Row(2, "y").
		Bytes()
	first, err := utf.Decode(buf)
	require.NoError(t, err)
	second, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDecodeShiftJISString(t *testing.T) {
	// "テスト" in Shift-JIS
	sjis := string([]byte{0x83, 0x65, 0x83, 0x58, 0x83, 0x67})
	buf := utftest.New("Names").
		Column("Name", utf.TypeString).
		Row(sjis).
		Bytes()
	table, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, "テスト", table.Rows[0].String("Name"))
}

func TestDecodeErrors(t *testing.T) {
	_, err := utf.Decode([]byte("@UT"))
	require.ErrorIs(t, err, utf.ErrBadMagic)

	_, err = utf.Decode([]byte("AFS2\x00\x00\x00\x00"))
	require.ErrorIs(t, err, utf.ErrBadMagic)

	buf := utftest.New("Short").
		Column("A", utf.TypeUInt32).
		Row(1).Row(2).
		Bytes()
	_, err = utf.Decode(buf[:20])
	require.ErrorIs(t, err, utf.ErrTruncated)

	var fe *utf.FormatError
	require.True(t, errors.As(err, &fe))
}

func TestDecodeTruncatedRows(t *testing.T) {
	b := utftest.New("Rows").Column("A", utf.TypeUInt64).Row(1).Row(2).Bytes()
	table, err := utf.Decode(b)
	require.NoError(t, err)
	valueEnd := 8 + int(table.Header.ValueOffset) + 16
	_, err = utf.Decode(b[:valueEnd-4])
	require.ErrorIs(t, err, utf.ErrTruncated)
}

func TestDecodeRejectsUnsupportedSchema(t *testing.T) {
	buf := utftest.New("Mode3").
		Raw("Odd", 0x75).
		Bytes()
	_, err := utf.Decode(buf)
	require.ErrorIs(t, err, utf.ErrUnsupportedSchema)

	buf = utftest.New("BadType").
		Raw("Odd", 0x5C).
		Bytes()
	_, err = utf.Decode(buf)
	require.ErrorIs(t, err, utf.ErrUnsupportedSchema)
}

func TestTableNameIsFirstPoolString(t *testing.T) {
	buf := utftest.New("Outer").
		Column("Real", utf.TypeUInt8).
		Row(1).
		Bytes()
	// point NameOffset at "Real", which follows "Outer\x00" in the pool
	binary.BigEndian.PutUint32(buf[8+12:], uint32(len("Outer")+1))

	table, err := utf.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(6), table.Header.NameOffset)
	require.Equal(t, "Outer", table.Name)
}

func TestDecodeRejectsImplausiblePageCount(t *testing.T) {
	buf := utftest.New("Consts").
		Constant("Version", utf.TypeUInt32, 7).
		Row().
		Bytes()
	binary.BigEndian.PutUint32(buf[8+20:], 50_000_000)
	_, err := utf.Decode(buf)
	require.ErrorIs(t, err, utf.ErrTruncated)
	var fe *utf.FormatError
	require.True(t, errors.As(err, &fe))

	buf = utftest.New("Rows").
		Column("A", utf.TypeUInt32).
		Row(1).Row(2).
		Bytes()
	binary.BigEndian.PutUint32(buf[8+20:], 1_000_000)
	_, err = utf.Decode(buf)
	require.ErrorIs(t, err, utf.ErrTruncated)
}
