// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Encode writes m as an indented XML document. Required fields are always
// written; optional fields only when set. Map entries are written in sorted
// key order so equal manifests encode to identical bytes.
func (m *Manifest) Encode(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(bw)
	enc.Indent("", "  ")

	e := &encoder{enc: enc}
	e.start(elemPackage)
	e.text(elemName, m.Name)
	e.text(elemVersion, m.Version)
	e.text(elemInterfaceVersion, m.InterfaceVersion)
	if m.License != "" {
		e.text(elemLicense, m.License)
	}
	if m.Description != "" {
		e.text(elemDescription, m.Description)
	}
	if m.SkipDelivery {
		e.text(elemSkipDelivery, strconv.FormatBool(true))
	}
	if m.RequiresReplacement {
		e.text(elemRequiresReplacement, strconv.FormatBool(true))
	}
	if !m.ContentHash.IsZero() {
		e.text(elemSHA256, m.ContentHash.String())
	}
	for _, cfg := range m.DefaultConfigurations {
		e.modal(elemDefaultConfiguration, elemSource, cfg.Source, cfg.StartModes)
	}
	for _, pre := range m.PreloadAssemblies {
		e.modal(elemPreloadAssembly, elemAssembly, pre.Filename, pre.StartModes)
	}
	if len(m.Dependencies) > 0 {
		e.start(elemDependencies)
		for _, name := range m.DependencyNames() {
			attrs := []xml.Attr{{Name: xml.Name{Local: attrName}, Value: name}}
			if v := m.Dependencies[name]; v != "" {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrVersion}, Value: v})
			}
			e.empty(elemDependency, attrs)
		}
		e.end(elemDependencies)
	}
	if len(m.Files) > 0 {
		e.start(elemFiles)
		for _, name := range m.FileNames() {
			rec := m.Files[name]
			attrs := []xml.Attr{{Name: xml.Name{Local: attrName}, Value: name}}
			if rec.Version != "" {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrVersion}, Value: rec.Version})
			}
			if !rec.Hash.IsZero() {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrSHA256}, Value: rec.Hash.String()})
			}
			if rec.IsVersionSource {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrIsVersionSrc}, Value: strconv.FormatBool(true)})
			}
			e.empty(elemFile, attrs)
		}
		e.end(elemFiles)
	}
	e.end(elemPackage)

	if e.err != nil {
		return fmt.Errorf("encoding manifest %s: %w", m, e.err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Serialize writes m to path. The document is written to a temporary file in
// the same directory and renamed over path, so readers never observe a
// partially written manifest.
func (m *Manifest) Serialize(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := m.Encode(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting manifest permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	renamed = true
	return nil
}

// encoder records the first token error so the Encode body stays linear.
type encoder struct {
	enc *xml.Encoder
	err error
}

func (e *encoder) token(t xml.Token) {
	if e.err == nil {
		e.err = e.enc.EncodeToken(t)
	}
}

func (e *encoder) start(name string) {
	e.token(xml.StartElement{Name: xml.Name{Local: name}})
}

func (e *encoder) end(name string) {
	e.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (e *encoder) text(name, value string) {
	e.start(name)
	e.token(xml.CharData(value))
	e.end(name)
}

func (e *encoder) empty(name string, attrs []xml.Attr) {
	e.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
	e.end(name)
}

func (e *encoder) modal(parent, valueElem, value string, modes []string) {
	e.start(parent)
	e.text(valueElem, value)
	for _, mode := range modes {
		e.text(elemUseIfStartedAs, mode)
	}
	e.end(parent)
}
