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

var _ = Describe("Struct", func() {
	u8 := types.NewInteger(8, false, types.LittleEndian)
	u32 := types.NewInteger(32, false, types.LittleEndian)
	s32be := types.NewInteger(32, true, types.BigEndian)
	str := &types.String{Encoding: types.EncodingUTF8}

	Context("construction", func() {
		It("rejects duplicate field names", func() {
			_, err := types.NewStruct(types.Field{Name: "a", Decl: u8}, types.Field{Name: "a", Decl: u32})
			Expect(errors.Cause(err)).To(Equal(types.ErrInvalidDeclaration))
		})

		It("rejects fields without declarations", func() {
			_, err := types.NewStruct(types.Field{Name: "a", Decl: nil})
			Expect(errors.Cause(err)).To(Equal(types.ErrInvalidDeclaration))
		})

		It("takes the largest alignment of its fields", func() {
			s := types.MustStruct(types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: &types.Integer{Length: 16, Align: 64}})
			Expect(s.Alignment()).To(Equal(int64(64)))

			Expect(types.MustAlignedStruct(32, types.Field{Name: "a", Decl: u8}).Alignment()).To(Equal(int64(32)))
			Expect(types.MustStruct().Alignment()).To(Equal(int64(1)))
		})

		It("exposes its fields", func() {
			s := types.MustStruct(types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32})
			Expect(s.NumFields()).To(Equal(2))
			Expect(s.HasField("b")).To(BeTrue())
			Expect(s.HasField("c")).To(BeFalse())
			Expect(s.Field("a")).To(BeIdenticalTo(u8))
			Expect(s.Field("c")).To(BeNil())
			Expect(s.Fields()[1].Name).To(Equal("b"))
		})
	})

	Context("decoding", func() {
		It("decodes fields in order, aligning each", func() {
			s := types.MustStruct(types.Field{Name: "flag", Decl: &types.Integer{Length: 1, Align: 1}}, types.Field{Name: "value", Decl: s32be}, types.Field{Name: "name", Decl: str})

			var bw bitbuffer.W
			bw.WriteUnsigned(1, 1, types.LittleEndian)
			bw.Align(8)
			bw.WriteSigned(-7, 32, types.BigEndian)
			Expect(bw.WriteCString("cpu0")).To(Succeed())
			b := bitbuffer.New(bw.Bytes())

			def, err := types.Decode(s, nil, "fields", b)
			Expect(err).ToNot(HaveOccurred())
			sd := def.(*types.StructDefinition)
			Expect(sd.Name()).To(Equal("fields"))
			Expect(sd.Field("flag").(*types.IntegerDefinition).Value()).To(Equal(int64(1)))
			Expect(sd.Field("value").(*types.IntegerDefinition).Value()).To(Equal(int64(-7)))
			Expect(sd.Field("name").(*types.StringDefinition).Value()).To(Equal("cpu0"))
			Expect(sd.Fields()).To(HaveLen(3))
			Expect(b.Remaining()).To(Equal(int64(0)))
			Expect(sd.String()).To(Equal(`{ flag = 1, value = -7, name = "cpu0" }`))
		})

		It("reports the failing field", func() {
			s := types.MustStruct(types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32})
			_, err := types.Decode(s, nil, "fields", bitbuffer.New([]byte{1, 2}))
			Expect(errors.Cause(err)).To(Equal(bitbuffer.ErrOutOfBounds))
			Expect(err.Error()).To(ContainSubstring(`"b"`))
		})
	})

	Context("lookup", func() {
		inner := types.MustStruct(types.Field{Name: "x", Decl: u8})
		outer := types.MustStruct(types.Field{Name: "len", Decl: u8}, types.Field{Name: "inner", Decl: inner})

		var def *types.StructDefinition
		BeforeEach(func() {
			parent := mapScope{"outside": types.NewIntegerDefinition(u8, nil, "outside", 9)}
			d, err := types.Decode(outer, parent, "outer", bitbuffer.New([]byte{3, 4}))
			Expect(err).ToNot(HaveOccurred())
			def = d.(*types.StructDefinition)
		})

		It("resolves its own fields and dotted paths", func() {
			Expect(def.Lookup("len").(*types.IntegerDefinition).Value()).To(Equal(int64(3)))
			Expect(def.Lookup("inner.x").(*types.IntegerDefinition).Value()).To(Equal(int64(4)))
		})

		It("falls back to its parent scope", func() {
			Expect(def.Lookup("outside").(*types.IntegerDefinition).Value()).To(Equal(int64(9)))

			// A nested struct resolves its enclosing struct's fields too.
			innerDef := def.Field("inner").(*types.StructDefinition)
			Expect(innerDef.Lookup("len").(*types.IntegerDefinition).Value()).To(Equal(int64(3)))
		})

		It("returns nil for missing paths", func() {
			Expect(def.Lookup("missing")).To(BeNil())
			Expect(def.Lookup("len.x")).To(BeNil())
			Expect(def.Lookup("inner.missing")).To(BeNil())
		})
	})

	Context("equality", func() {
		build := func() *types.Struct {
			return types.MustStruct(
				types.Field{Name: "id", Decl: types.NewInteger(5, false, types.LittleEndian)},
				types.Field{Name: "name", Decl: &types.String{}},
				types.Field{Name: "values", Decl: &types.Array{Length: 4, Element: types.NewInteger(16, true, types.BigEndian)}},
			)
		}

		It("compares independently built structs as equal with equal hashes", func() {
			a, b := build(), build()
			Expect(a).ToNot(BeIdenticalTo(b))
			Expect(types.Equal(a, b)).To(BeTrue())
			Expect(types.Hash(a)).To(Equal(types.Hash(b)))
		})

		It("breaks equality when one field changes", func() {
			a := build()
			b := types.MustStruct(
				types.Field{Name: "id", Decl: types.NewInteger(5, false, types.LittleEndian)},
				types.Field{Name: "name", Decl: &types.String{}},
				types.Field{Name: "values", Decl: &types.Array{Length: 4, Element: types.NewInteger(16, false, types.BigEndian)}},
			)
			Expect(types.Equal(a, b)).To(BeFalse())
			Expect(types.Hash(a)).ToNot(Equal(types.Hash(b)))
		})

		It("is field-order sensitive, with an unordered form", func() {
			a := types.MustStruct(types.Field{Name: "a", Decl: u8}, types.Field{Name: "b", Decl: u32})
			b := types.MustStruct(types.Field{Name: "b", Decl: u32}, types.Field{Name: "a", Decl: u8})
			Expect(types.Equal(a, b)).To(BeFalse())
			Expect(types.EqualUnordered(a, b)).To(BeTrue())

			c := types.MustStruct(types.Field{Name: "b", Decl: u32}, types.Field{Name: "c", Decl: u8})
			Expect(types.EqualUnordered(a, c)).To(BeFalse())
		})

		It("is not equal to other declarations or nil", func() {
			Expect(types.Equal(build(), nil)).To(BeFalse())
			Expect(types.Equal(build(), &types.String{})).To(BeFalse())
			Expect(types.EqualUnordered(build(), nil)).To(BeFalse())
		})
	})

	It("renders as TSDL", func() {
		s := types.MustAlignedStruct(8,
			types.Field{Name: "len", Decl: u8},
			types.Field{Name: "data", Decl: &types.Sequence{LengthField: "len", Element: u8}},
			types.Field{Name: "tag", Decl: &types.Array{Length: 2, Element: str}},
		)
		Expect(s.String()).To(Equal("struct { " +
			u8.String() + " len; " +
			u8.String() + " data[len]; " +
			str.String() + " tag[2]; } align(1)"))
	})
})
