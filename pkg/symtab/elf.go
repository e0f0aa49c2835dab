package symtab

import (
	"debug/elf"
	"errors"
	"io"
)

// BasesFromELF reads the link-time section addresses of an ELF binary. Add
// the load bias for position independent executables.
func BasesFromELF(r io.ReaderAt) (SectionBases, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return SectionBases{}, err
	}
	defer f.Close()

	var b SectionBases
	for name, role := range sectionRoles {
		s := f.Section(name)
		if s == nil {
			continue
		}
		addr := uintptr(s.Addr)
		switch role {
		case RoleCode:
			b.Text = addr
		case RoleZeroData:
			b.ZeroData = addr
		case RoleData:
			b.Data = addr
		case RoleReadOnly:
			b.ReadOnly = addr
		}
	}
	if b.Text == 0 {
		return SectionBases{}, errors.New("symtab: binary has no .text section")
	}
	return b, nil
}

// Shift returns b with every base moved by bias.
func (b SectionBases) Shift(bias uintptr) SectionBases {
	return SectionBases{
		Text:     b.Text + bias,
		ZeroData: b.ZeroData + bias,
		Data:     b.Data + bias,
		ReadOnly: b.ReadOnly + bias,
	}
}
