package server

import "path/filepath"

// ArchiveDir is the directory holding uploaded solution archives.
func ArchiveDir(cfg Config) string {
	return filepath.Join(cfg.DataDir, "archives")
}

// StateFilePath is the persistent JSON store for solutions, uploads,
// versions and run events.
func StateFilePath(cfg Config) string {
	return filepath.Join(cfg.DataDir, "state.json")
}

// SkillsFilePath is the YAML skill knowledge base.
func SkillsFilePath(cfg Config) string {
	return filepath.Join(cfg.DataDir, "skills.yaml")
}
