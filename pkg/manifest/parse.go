// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	elemPackage              = "package"
	elemName                 = "name"
	elemVersion              = "version"
	elemInterfaceVersion     = "interface-version"
	elemLicense              = "license"
	elemDescription          = "description"
	elemSkipDelivery         = "skip-delivery"
	elemRequiresReplacement  = "requires-replacement"
	elemSHA256               = "sha256"
	elemDefaultConfiguration = "default-configuration"
	elemSource               = "source"
	elemUseIfStartedAs       = "use-if-started-as"
	elemPreloadAssembly      = "preload-assembly"
	elemAssembly             = "assembly"
	elemDependencies         = "dependencies"
	elemDependency           = "dependency"
	elemFiles                = "files"
	elemFile                 = "file"

	attrName         = "name"
	attrVersion      = "version"
	attrSHA256       = "sha256"
	attrIsVersionSrc = "is-version-src"
)

// Parse decodes and validates a manifest from r. The document is consumed
// token by token; elements the model does not know are skipped.
func Parse(r io.Reader) (*Manifest, error) {
	dec := xml.NewDecoder(r)

	root, err := firstElement(dec)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != elemPackage {
		return nil, invalidf("root element is %q, want %q", root.Name.Local, elemPackage)
	}

	m := &Manifest{}
	if err := m.decodePackage(dec); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseFile parses the manifest stored at path. Errors name the file.
func ParseFile(path string) (_ *Manifest, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // read-only

	m, err := Parse(f)
	if err != nil {
		var invalid *InvalidManifestError
		if errors.As(err, &invalid) {
			invalid.Source = path
			return nil, invalid
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// firstElement skips the prolog (declaration, comments, whitespace) and
// returns the root start element.
func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, truncated(err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// truncated converts a decoder error into an InvalidManifestError. io.EOF at
// this level always means the document ended early.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return invalidf("unexpected end of document")
	}
	return &InvalidManifestError{Reason: "malformed document", Err: err}
}

func (m *Manifest) decodePackage(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return truncated(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := m.decodePackageChild(dec, t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (m *Manifest) decodePackageChild(dec *xml.Decoder, start xml.StartElement) error {
	var err error
	switch start.Name.Local {
	case elemName:
		m.Name, err = readText(dec)
	case elemVersion:
		m.Version, err = readText(dec)
	case elemInterfaceVersion:
		m.InterfaceVersion, err = readText(dec)
	case elemLicense:
		m.License, err = readText(dec)
	case elemDescription:
		m.Description, err = readText(dec)
	case elemSkipDelivery:
		m.SkipDelivery, err = readBool(dec, start.Name.Local)
	case elemRequiresReplacement:
		m.RequiresReplacement, err = readBool(dec, start.Name.Local)
	case elemSHA256:
		var text string
		if text, err = readText(dec); err == nil {
			m.ContentHash, err = parseDigestField(text, elemSHA256)
		}
	case elemDefaultConfiguration:
		var cfg Configuration
		cfg.Source, cfg.StartModes, err = decodeModal(dec, start.Name.Local, elemSource)
		m.DefaultConfigurations = append(m.DefaultConfigurations, cfg)
	case elemPreloadAssembly:
		var pre Preload
		pre.Filename, pre.StartModes, err = decodeModal(dec, start.Name.Local, elemAssembly)
		m.PreloadAssemblies = append(m.PreloadAssemblies, pre)
	case elemDependencies:
		err = m.decodeDependencies(dec)
	case elemFiles:
		err = m.decodeFiles(dec)
	default:
		if skipErr := dec.Skip(); skipErr != nil {
			err = truncated(skipErr)
		}
	}
	return err
}

// readText returns the character data of the current element and consumes
// its end tag. Child elements are not allowed.
func readText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", truncated(err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			return "", invalidf("unexpected child element %q", t.Name.Local)
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func readBool(dec *xml.Decoder, field string) (bool, error) {
	text, err := readText(dec)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(strings.TrimSpace(text))
	if err != nil {
		return false, &InvalidManifestError{Reason: fmt.Sprintf("field %q", field), Err: err}
	}
	return v, nil
}

func parseDigestField(text, field string) (Digest, error) {
	d, err := ParseDigest(text)
	if err != nil {
		return nil, &InvalidManifestError{Reason: fmt.Sprintf("field %q", field), Err: err}
	}
	return d, nil
}

// decodeModal reads a default-configuration or preload-assembly element: one
// value child named valueElem plus any number of use-if-started-as children.
func decodeModal(dec *xml.Decoder, parent, valueElem string) (string, []string, error) {
	var (
		value string
		modes []string
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, truncated(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case valueElem:
				if value, err = readText(dec); err != nil {
					return "", nil, err
				}
			case elemUseIfStartedAs:
				mode, err := readText(dec)
				if err != nil {
					return "", nil, err
				}
				modes = append(modes, mode)
			default:
				if err := dec.Skip(); err != nil {
					return "", nil, truncated(err)
				}
			}
		case xml.EndElement:
			if value == "" {
				return "", nil, invalidf("%s without %s", parent, valueElem)
			}
			return value, modes, nil
		}
	}
}

func (m *Manifest) decodeDependencies(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return truncated(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != elemDependency {
				if err := dec.Skip(); err != nil {
					return truncated(err)
				}
				continue
			}
			name, version := attr(t, attrName), attr(t, attrVersion)
			if name == "" {
				return invalidf("dependency without a name")
			}
			if m.Dependencies == nil {
				m.Dependencies = make(map[string]string)
			}
			if _, dup := m.Dependencies[name]; dup {
				return invalidf("dependency %q declared twice", name)
			}
			m.Dependencies[name] = version
			if err := dec.Skip(); err != nil {
				return truncated(err)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (m *Manifest) decodeFiles(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return truncated(err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != elemFile {
				if err := dec.Skip(); err != nil {
					return truncated(err)
				}
				continue
			}
			name, rec, err := fileRecord(t)
			if err != nil {
				return err
			}
			if m.Files == nil {
				m.Files = make(map[string]FileRecord)
			}
			if _, dup := m.Files[name]; dup {
				return invalidf("file %q listed twice", name)
			}
			m.Files[name] = rec
			if err := dec.Skip(); err != nil {
				return truncated(err)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func fileRecord(start xml.StartElement) (string, FileRecord, error) {
	var rec FileRecord
	name := attr(start, attrName)
	if name == "" {
		return "", rec, invalidf("file without a name")
	}
	rec.Version = attr(start, attrVersion)
	if hash := attr(start, attrSHA256); hash != "" {
		d, err := parseDigestField(hash, attrSHA256)
		if err != nil {
			return "", rec, err
		}
		rec.Hash = d
	}
	if src := attr(start, attrIsVersionSrc); src != "" {
		v, err := strconv.ParseBool(src)
		if err != nil {
			return "", rec, &InvalidManifestError{Reason: fmt.Sprintf("file %q attribute %q", name, attrIsVersionSrc), Err: err}
		}
		rec.IsVersionSource = v
	}
	return name, rec, nil
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
