// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package types_test

import (
	"github.com/danjacques/goctf/support/bitbuffer"
	"github.com/danjacques/goctf/types"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Array and Sequence", func() {
	char := &types.Integer{Length: 8, Encoding: types.EncodingUTF8}
	u8 := types.NewInteger(8, false, types.LittleEndian)
	u16 := types.NewInteger(16, false, types.LittleEndian)

	It("decodes a fixed number of elements", func() {
		a := &types.Array{Length: 3, Element: u16}
		def, err := types.Decode(a, nil, "a", bitbuffer.New([]byte{1, 0, 2, 0, 3, 0}))
		Expect(err).ToNot(HaveOccurred())

		ad := def.(*types.ArrayDefinition)
		Expect(ad.Len()).To(Equal(3))
		Expect(ad.Elem(2).(*types.IntegerDefinition).Value()).To(Equal(int64(3)))
		Expect(ad.Elem(1).Name()).To(Equal("a[1]"))
		Expect(ad.IsString()).To(BeFalse())
		Expect(ad.String()).To(Equal("[1, 2, 3]"))
	})

	It("treats character arrays as strings", func() {
		a := &types.Array{Length: 6, Element: char}
		Expect(a.IsString()).To(BeTrue())

		def, err := types.Decode(a, nil, "comm", bitbuffer.New([]byte("ls\x00\x00\x00\x00")))
		Expect(err).ToNot(HaveOccurred())
		ad := def.(*types.ArrayDefinition)
		Expect(ad.IsString()).To(BeTrue())
		Expect(ad.StringValue()).To(Equal("ls"))
		Expect(ad.String()).To(Equal(`"ls"`))
	})

	It("rejects element counts that cannot fit", func() {
		a := &types.Array{Length: 1 << 40, Element: u16}
		_, err := types.Decode(a, nil, "a", bitbuffer.New([]byte{1, 2}))
		Expect(errors.Cause(err)).To(Equal(bitbuffer.ErrOutOfBounds))
	})

	Context("sequences", func() {
		s := types.MustStruct(
			types.Field{Name: "len", Decl: u8},
			types.Field{Name: "data", Decl: &types.Sequence{LengthField: "len", Element: u16}},
		)

		It("reads the length from a sibling field", func() {
			def, err := types.Decode(s, nil, "fields", bitbuffer.New([]byte{2, 7, 0, 9, 0}))
			Expect(err).ToNot(HaveOccurred())

			data := def.(*types.StructDefinition).Field("data").(*types.ArrayDefinition)
			Expect(data.Len()).To(Equal(2))
			Expect(data.Elem(0).(*types.IntegerDefinition).Value()).To(Equal(int64(7)))
			Expect(data.Elem(1).(*types.IntegerDefinition).Value()).To(Equal(int64(9)))
		})

		It("decodes an empty sequence", func() {
			def, err := types.Decode(s, nil, "fields", bitbuffer.New([]byte{0}))
			Expect(err).ToNot(HaveOccurred())
			Expect(def.(*types.StructDefinition).Field("data").(*types.ArrayDefinition).Len()).To(Equal(0))
		})

		It("reads the length from an enclosing scope", func() {
			seq := &types.Sequence{LengthField: "event.fields.n", Element: char}
			scope := mapScope{"event.fields.n": types.NewIntegerDefinition(u8, nil, "n", 2)}

			def, err := types.Decode(seq, scope, "text", bitbuffer.New([]byte("hi")))
			Expect(err).ToNot(HaveOccurred())
			Expect(def.(*types.ArrayDefinition).StringValue()).To(Equal("hi"))
		})

		It("fails when the length field is missing", func() {
			bad := types.MustStruct(types.Field{Name: "data", Decl: &types.Sequence{LengthField: "len", Element: u16}})
			_, err := types.Decode(bad, nil, "fields", bitbuffer.New([]byte{2, 0}))
			Expect(errors.Cause(err)).To(Equal(types.ErrUnresolvedLength))
		})

		It("fails when the length field is not an integer", func() {
			bad := types.MustStruct(
				types.Field{Name: "len", Decl: &types.String{}},
				types.Field{Name: "data", Decl: &types.Sequence{LengthField: "len", Element: u16}},
			)
			_, err := types.Decode(bad, nil, "fields", bitbuffer.New([]byte{'a', 0, 1, 0}))
			Expect(errors.Cause(err)).To(Equal(types.ErrUnresolvedLength))
		})

		It("fails when the length exceeds the remaining data", func() {
			_, err := types.Decode(s, nil, "fields", bitbuffer.New([]byte{200, 1, 0}))
			Expect(errors.Cause(err)).To(Equal(bitbuffer.ErrOutOfBounds))
		})

		It("fails on a negative signed length", func() {
			bad := types.MustStruct(
				types.Field{Name: "len", Decl: types.NewInteger(8, true, types.LittleEndian)},
				types.Field{Name: "data", Decl: &types.Sequence{LengthField: "len", Element: u8}},
			)
			_, err := types.Decode(bad, nil, "fields", bitbuffer.New([]byte{0xFF, 1}))
			Expect(errors.Cause(err)).To(Equal(bitbuffer.ErrOutOfBounds))
		})

		It("compares structurally", func() {
			a := &types.Sequence{LengthField: "len", Element: u16}
			Expect(types.Equal(a, &types.Sequence{LengthField: "len", Element: types.NewInteger(16, false, types.LittleEndian)})).To(BeTrue())
			Expect(types.Equal(a, &types.Sequence{LengthField: "n", Element: u16})).To(BeFalse())
			Expect(types.Equal(a, &types.Sequence{LengthField: "len", Element: u8})).To(BeFalse())
			Expect(types.Hash(a)).To(Equal(types.Hash(&types.Sequence{LengthField: "len", Element: u16})))
		})
	})
})

var _ = Describe("Variant", func() {
	u8 := types.NewInteger(8, false, types.LittleEndian)
	u32 := types.NewInteger(32, false, types.LittleEndian)
	u64 := types.NewInteger(64, false, types.LittleEndian)

	tagEnum := types.MustEnum(u8,
		types.EnumRange{Low: 0, High: 0, Label: "compact"},
		types.EnumRange{Low: 1, High: 1, Label: "extended"},
		types.EnumRange{Low: 2, High: 2, Label: "unknown"})

	compact := types.MustStruct(types.Field{Name: "timestamp", Decl: u32})
	extended := types.MustStruct(types.Field{Name: "id", Decl: u32}, types.Field{Name: "timestamp", Decl: u64})

	header := types.MustStruct(
		types.Field{Name: "id", Decl: tagEnum},
		types.Field{Name: "v", Decl: types.MustVariant("id", types.Field{Name: "compact", Decl: compact}, types.Field{Name: "extended", Decl: extended})},
	)

	It("selects the member named by the tag's label", func() {
		var bw bitbuffer.W
		bw.WriteUnsigned(1, 8, types.LittleEndian)
		bw.WriteUnsigned(42, 32, types.LittleEndian)
		bw.WriteUnsigned(1000, 64, types.LittleEndian)

		def, err := types.Decode(header, nil, "header", bitbuffer.New(bw.Bytes()))
		Expect(err).ToNot(HaveOccurred())
		hd := def.(*types.StructDefinition)

		v := hd.Field("v").(*types.VariantDefinition)
		Expect(v.Tag()).To(Equal("extended"))
		Expect(hd.Lookup("v.timestamp").(*types.IntegerDefinition).Value()).To(Equal(int64(1000)))
		Expect(hd.Lookup("v.extended.id").(*types.IntegerDefinition).Value()).To(Equal(int64(42)))
		Expect(hd.Lookup("v.compact.timestamp")).To(BeNil())
	})

	It("decodes the compact member", func() {
		def, err := types.Decode(header, nil, "header", bitbuffer.New([]byte{0, 5, 0, 0, 0}))
		Expect(err).ToNot(HaveOccurred())
		v := def.(*types.StructDefinition).Field("v").(*types.VariantDefinition)
		Expect(v.Tag()).To(Equal("compact"))
		Expect(v.Current().(*types.StructDefinition).Field("timestamp").(*types.IntegerDefinition).Value()).To(Equal(int64(5)))
	})

	It("fails when no member matches the label", func() {
		_, err := types.Decode(header, nil, "header", bitbuffer.New([]byte{2, 0, 0, 0, 0}))
		Expect(errors.Cause(err)).To(Equal(types.ErrNoVariantMember))
	})

	It("fails when the tag is missing or not an enum", func() {
		_, err := types.Decode(types.MustVariant("id", types.Field{Name: "a", Decl: u8}), nil, "v", bitbuffer.New([]byte{0}))
		Expect(errors.Cause(err)).To(Equal(types.ErrUnresolvedTag))

		scope := mapScope{"id": types.NewIntegerDefinition(u8, nil, "id", 0)}
		_, err = types.Decode(types.MustVariant("id", types.Field{Name: "a", Decl: u8}), scope, "v", bitbuffer.New([]byte{0}))
		Expect(errors.Cause(err)).To(Equal(types.ErrUnresolvedTag))
	})

	It("matches underscore-prefixed member names", func() {
		v := types.MustVariant("id", types.Field{Name: "_compact", Decl: compact})
		Expect(v.Member("compact")).To(BeIdenticalTo(compact))
		Expect(v.Member("_compact")).To(BeIdenticalTo(compact))

		w := types.MustVariant("id", types.Field{Name: "compact", Decl: compact})
		Expect(w.Member("_compact")).To(BeIdenticalTo(compact))
		Expect(w.Member("other")).To(BeNil())
	})

	It("rejects duplicate members", func() {
		_, err := types.NewVariant("id", types.Field{Name: "a", Decl: u8}, types.Field{Name: "a", Decl: u32})
		Expect(errors.Cause(err)).To(Equal(types.ErrInvalidDeclaration))
	})

	Context("equality", func() {
		It("compares members regardless of order", func() {
			a := types.MustVariant("id", types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32})
			b := types.MustVariant("id", types.Field{Name: "b", Decl: u32}, types.Field{Name: "a", Decl: u8})
			Expect(types.Equal(a, b)).To(BeTrue())
			Expect(types.Hash(a)).To(Equal(types.Hash(b)))
		})

		It("compares tags and members", func() {
			a := types.MustVariant("id", types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32})
			Expect(types.Equal(a, types.MustVariant("tag", types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32}))).To(BeFalse())
			Expect(types.Equal(a, types.MustVariant("id", types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u64}))).To(BeFalse())
			Expect(types.Equal(a, types.MustVariant("id", types.Field{Name: "a", Decl: u8}))).To(BeFalse())
			Expect(types.Equal(a, types.MustVariant("id", types.Field{Name: "a", Decl: u8}, types.Field{Name: "c", Decl: u32}))).To(BeFalse())
		})
	})
})

var _ = Describe("Interner", func() {
	It("returns one instance per structure", func() {
		in, err := types.NewInterner(0)
		Expect(err).ToNot(HaveOccurred())

		a := types.MustStruct(types.Field{Name: "x", Decl: types.NewInteger(8, false, types.LittleEndian)})
		b := types.MustStruct(types.Field{Name: "x", Decl: types.NewInteger(8, false, types.LittleEndian)})
		c := types.MustStruct(types.Field{Name: "y", Decl: types.NewInteger(8, false, types.LittleEndian)})

		Expect(in.InternStruct(a)).To(BeIdenticalTo(a))
		Expect(in.InternStruct(b)).To(BeIdenticalTo(a))
		Expect(in.InternStruct(c)).To(BeIdenticalTo(c))
		Expect(in.InternStruct(nil)).To(BeNil())
		Expect(in.Len()).To(Equal(2))
	})
})
