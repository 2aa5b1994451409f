package pack

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const (
	manifestEntry      = "manifest.json"
	flowsManifestEntry = "Microsoft.Flow/flows/manifest.json"
	flowsBasePath      = "Microsoft.Flow/flows/"
)

// MalformedPackageError reports a structurally invalid archive. Entry names
// the missing or undecodable archive member.
type MalformedPackageError struct {
	Entry  string
	Reason string
}

func (e *MalformedPackageError) Error() string {
	if e == nil {
		return "malformed package"
	}
	return fmt.Sprintf("malformed package: %s: %s", e.Entry, e.Reason)
}

// Parse decodes raw archive bytes into a Package. Parsing checks structural
// presence only; unknown fields inside entries are accepted and retained
// on the raw byte copies. A failure never yields a partial package.
func Parse(data []byte) (*Package, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &MalformedPackageError{Entry: "archive", Reason: err.Error()}
	}

	entries := make(map[string]*zip.File, len(reader.File))
	for _, file := range reader.File {
		entries[file.Name] = file
	}

	pkg := &Package{}
	manifestData, err := decodeEntry(entries, manifestEntry, true, &pkg.Manifest)
	if err != nil {
		return nil, err
	}
	pkg.RawManifest = json.RawMessage(manifestData)

	var flowsManifest FlowsManifest
	if _, err := decodeEntry(entries, flowsManifestEntry, true, &flowsManifest); err != nil {
		return nil, err
	}

	for _, flowID := range flowsManifest.FlowAssets.AssetPaths {
		basePath := flowsBasePath + flowID

		flow := Flow{FlowID: flowID}
		definitionData, err := decodeEntry(entries, basePath+"/definition.json", true, &flow.Definition)
		if err != nil {
			return nil, err
		}
		flow.RawDefinition = json.RawMessage(definitionData)
		if _, err := decodeEntry(entries, basePath+"/apisMap.json", false, &flow.APIsMap); err != nil {
			return nil, err
		}
		if _, err := decodeEntry(entries, basePath+"/connectionsMap.json", false, &flow.ConnectionsMap); err != nil {
			return nil, err
		}
		if flow.APIsMap == nil {
			flow.APIsMap = map[string]string{}
		}
		if flow.ConnectionsMap == nil {
			flow.ConnectionsMap = map[string]string{}
		}
		pkg.Flows = append(pkg.Flows, flow)
	}

	return pkg, nil
}

// decodeEntry unmarshals one archive member into target and returns the
// member's raw bytes, or nil when an optional member is absent.
func decodeEntry(entries map[string]*zip.File, name string, required bool, target any) ([]byte, error) {
	file, ok := entries[name]
	if !ok {
		if required {
			return nil, &MalformedPackageError{Entry: name, Reason: "not found in archive"}
		}
		return nil, nil
	}

	contents, err := file.Open()
	if err != nil {
		return nil, &MalformedPackageError{Entry: name, Reason: err.Error()}
	}
	defer contents.Close()

	data, err := io.ReadAll(contents)
	if err != nil {
		return nil, &MalformedPackageError{Entry: name, Reason: err.Error()}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, &MalformedPackageError{Entry: name, Reason: err.Error()}
	}
	return data, nil
}
