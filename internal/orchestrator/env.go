package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dyluth/cstar/pkg/cluster"
)

// DaemonPattern matches the Cassandra JVM in pkill/pgrep.
const DaemonPattern = "java.*org.apache.*.CassandraDaemon"

// EnvScript builds cassandra-env.sh for a node: JVM options first, then the
// cluster's env override, then the pristine script shipped with the build.
func EnvScript(spec cluster.ClusterSpec, node cluster.NodeSpec, logDir string, original []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "JVM_OPTS=\"$JVM_OPTS -Djava.rmi.server.hostname=%s -Xloggc:%s/gc.log\"\n\n", node.BroadcastAddress(), logDir)
	if !spec.UseJNA {
		b.WriteString("JVM_EXTRA_OPTS=-Dcassandra.boot_without_jna=true\n\n")
	}
	if !spec.Env.IsZero() {
		b.WriteString(spec.Env.String())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.Write(original)
	return []byte(b.String())
}
