// SPDX-License-Identifier: MPL-2.0

package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// IndexFile is the name of the package index under each interface version.
const IndexFile = "packages.list"

// ParseIndex decodes a package index document:
//
//	<packages>
//	  <package name="core" hidden="false"/>
//	</packages>
//
// It returns the names in document order (duplicates dropped) and the set of
// names flagged hidden.
func ParseIndex(r io.Reader) ([]string, map[string]bool, error) {
	dec := xml.NewDecoder(r)

	var (
		names  []string
		hidden = make(map[string]bool)
		seen   = make(map[string]struct{})
		depth  int
		rooted bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !rooted {
				return nil, nil, errors.New("package index: empty document")
			}
			return names, hidden, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("package index: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				if t.Name.Local != "packages" {
					return nil, nil, fmt.Errorf("package index: root element is %q, want %q", t.Name.Local, "packages")
				}
				rooted = true
			case depth == 2 && t.Name.Local == "package":
				name, isHidden, err := indexEntry(t)
				if err != nil {
					return nil, nil, err
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				names = append(names, name)
				if isHidden {
					hidden[name] = true
				}
			}
		case xml.EndElement:
			depth--
		}
	}
}

func indexEntry(start xml.StartElement) (name string, hidden bool, err error) {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "name":
			name = strings.TrimSpace(a.Value)
		case "hidden":
			if hidden, err = strconv.ParseBool(strings.TrimSpace(a.Value)); err != nil {
				return "", false, fmt.Errorf("package index: hidden flag of %q: %w", name, err)
			}
		}
	}
	if name == "" {
		return "", false, errors.New("package index: package entry without a name")
	}
	return name, hidden, nil
}
