package specialist

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DetectTestCommand infers the conventional test invocation from standard
// project manifests. Returns "" when nothing is detected (the merge
// specialist reports skip).
func DetectTestCommand(projectPath string) string {
	if cmd := nodeTestCommand(projectPath); cmd != "" {
		return cmd
	}
	if fileExists(filepath.Join(projectPath, "pom.xml")) {
		return "mvn test"
	}
	if fileExists(filepath.Join(projectPath, "Cargo.toml")) {
		return "cargo test"
	}
	for _, marker := range []string{"pyproject.toml", "pytest.ini", "setup.py", "tox.ini"} {
		if fileExists(filepath.Join(projectPath, marker)) {
			return "pytest"
		}
	}
	return ""
}

// nodeTestCommand returns "npm test" only when package.json defines a real
// test script. npm's scaffold default ("no test specified" + exit 1) does
// not count.
func nodeTestCommand(projectPath string) string {
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json"))
	if err != nil {
		return ""
	}
	var manifest struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return ""
	}
	script, ok := manifest.Scripts["test"]
	if !ok || script == "" {
		return ""
	}
	if script == `echo "Error: no test specified" && exit 1` {
		return ""
	}
	return "npm test"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
