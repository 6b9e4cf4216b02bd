// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package synthetic

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/danjacques/goctf/trace"
	"github.com/danjacques/goctf/types"
)

// TSDL renders md as CTF metadata text.
func TSDL(md *trace.Metadata) string {
	var sb bytes.Buffer
	sb.WriteString("/* CTF 1.8 */\n\n")

	fmt.Fprintf(&sb, "trace {\n\tmajor = %d;\n\tminor = %d;\n", md.Major, md.Minor)
	fmt.Fprintf(&sb, "\tuuid = \"%s\";\n\tbyte_order = %s;\n", md.UUID, md.ByteOrder)
	if md.PacketHeader != nil {
		fmt.Fprintf(&sb, "\tpacket.header := %s;\n", md.PacketHeader)
	}
	sb.WriteString("};\n\n")

	if len(md.Env) > 0 {
		keys := make([]string, 0, len(md.Env))
		for k := range md.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("env {\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t%s = %q;\n", k, md.Env[k])
		}
		sb.WriteString("};\n\n")
	}

	for _, c := range md.Clocks {
		fmt.Fprintf(&sb, "clock {\n\tname = %q;\n", c.Name)
		if c.Description != "" {
			fmt.Fprintf(&sb, "\tdescription = %q;\n", c.Description)
		}
		fmt.Fprintf(&sb, "\tfreq = %d;\n\tprecision = %d;\n", c.Frequency, c.Precision)
		fmt.Fprintf(&sb, "\toffset_s = %d;\n\toffset = %d;\n\tabsolute = %t;\n};\n\n",
			c.OffsetSeconds, c.Offset, c.Absolute)
	}

	for _, s := range md.Streams {
		fmt.Fprintf(&sb, "stream {\n\tid = %d;\n", s.ID)
		writeScope(&sb, "packet.context", s.PacketContext)
		writeScope(&sb, "event.header", s.EventHeader)
		writeScope(&sb, "event.context", s.EventContext)
		sb.WriteString("};\n\n")

		for _, id := range s.EventIDs() {
			ev := s.Events[id]
			fmt.Fprintf(&sb, "event {\n\tname = %q;\n\tid = %d;\n\tstream_id = %d;\n", ev.Name, ev.ID, s.ID)
			if ev.LogLevel >= 0 {
				fmt.Fprintf(&sb, "\tloglevel = %d;\n", ev.LogLevel)
			}
			if ev.ModelEMFURI != "" {
				fmt.Fprintf(&sb, "\tmodel.emf.uri = %q;\n", ev.ModelEMFURI)
			}
			writeScope(&sb, "context", ev.Context)
			writeScope(&sb, "fields", ev.Fields)
			sb.WriteString("};\n\n")
		}
	}
	return sb.String()
}

func writeScope(sb *bytes.Buffer, name string, s *types.Struct) {
	if s != nil {
		fmt.Fprintf(sb, "\t%s := %s;\n", name, s)
	}
}
