package hostfacts

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// lookupPlistString extracts one string-ish key/value pair out of an
// XML-format property list by walking its token stream and pairing
// each <key> element with whatever element follows it (<string>,
// <integer>, <real>, <true/>, <false/>). Full plist fidelity (nested
// arrays/dicts, binary format) is not needed by anything this package
// reads; both Info.plist and pkgutil's --pkg-info-plist output are
// flat dicts of scalar values.
func lookupPlistString(data []byte, key string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var pendingKey string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hostfacts: parsing plist: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "key" {
				var k string
				if err := dec.DecodeElement(&k, &el); err != nil {
					return "", err
				}
				pendingKey = k
				continue
			}
			if pendingKey == key {
				switch el.Name.Local {
				case "true":
					skipElement(dec, el)
					return "true", nil
				case "false":
					skipElement(dec, el)
					return "false", nil
				default:
					var v string
					if err := dec.DecodeElement(&v, &el); err != nil {
						return "", err
					}
					return v, nil
				}
			}
			pendingKey = ""
		}
	}
	return "", fmt.Errorf("hostfacts: key %q not found in plist", key)
}

func skipElement(dec *xml.Decoder, start xml.StartElement) {
	_ = dec.Skip()
}

func readAppInfoPlist(path string) (bundleID, version string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	bundleID, _ = lookupPlistString(data, "CFBundleIdentifier")
	version, _ = lookupPlistString(data, "CFBundleShortVersionString")
	if bundleID == "" && version == "" {
		return "", "", fmt.Errorf("hostfacts: no usable keys found in %s", path)
	}
	return bundleID, version, nil
}

func parsePkgInfoPlistVersion(data []byte) (string, error) {
	v, err := lookupPlistString(data, "pkg-version")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("hostfacts: pkg-version key not present")
	}
	return v, nil
}
