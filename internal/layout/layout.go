// Package layout names the paths cstar uses on remote hosts.
package layout

import "path"

// Layout is rooted at a single directory on every host.
type Layout struct {
	Root string
}

// New returns a layout rooted at root.
func New(root string) Layout {
	return Layout{Root: path.Clean(root)}
}

func (l Layout) join(elem ...string) string {
	return path.Join(append([]string{l.Root}, elem...)...)
}

// Install is the live Cassandra install directory.
func (l Layout) Install() string { return l.join("cassandra") }

// Repo is the bare git repository builds are archived from.
func (l Layout) Repo() string { return l.join("cassandra.git") }

// Builds holds one tree and one tarball per cached revision.
func (l Layout) Builds() string { return l.join("cassandra_builds") }

// BuildTree is the compiled tree for a revision id.
func (l Layout) BuildTree(revisionID string) string { return path.Join(l.Builds(), revisionID) }

// BuildArchive is the packaged tree for a revision id.
func (l Layout) BuildArchive(revisionID string) string { return l.BuildTree(revisionID) + ".tar" }

// Staging is a scratch directory used while a build is in progress.
func (l Layout) Staging(revisionID string) string { return l.BuildTree(revisionID) + ".staging" }

// NodeArchive is where the build archive is uploaded on a node.
func (l Layout) NodeArchive() string { return l.join("artifact.tar") }

// Scripts holds generated env and run scripts.
func (l Layout) Scripts() string { return l.join("scripts") }

// Script names a script file by id.
func (l Layout) Script(id string) string { return path.Join(l.Scripts(), id+".sh") }

// Jython is the standalone jython jar used to read the option schema.
func (l Layout) Jython() string { return l.join("jython.jar") }

// Ant is the ant launcher.
func (l Layout) Ant() string { return l.join("ant", "bin", "ant") }

// JavaHome is the default JDK location.
func (l Layout) JavaHome() string { return l.join("java") }

// Logs is the default log directory.
func (l Layout) Logs() string { return l.join("logs") }

// Conf names a file under the install's conf directory.
func (l Layout) Conf(name string) string { return path.Join(l.Install(), "conf", name) }

// Bin names an executable under the install's bin directory.
func (l Layout) Bin(name string) string { return path.Join(l.Install(), "bin", name) }

// Lib is the install's jar directory.
func (l Layout) Lib() string { return path.Join(l.Install(), "lib") }

// RevisionMarker records which revision the install was built from.
func (l Layout) RevisionMarker() string { return path.Join(l.Install(), "0.GIT_REVISION.txt") }
