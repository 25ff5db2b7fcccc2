package supervisor

import (
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// descendants returns the pids of every live process below pid, walking the
// parent links of a single process table snapshot.
func descendants(pid int) []int32 {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	children := make(map[int32][]int32)
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int32
	queue := []int32{int32(pid)}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if slices.Contains(out, c) {
				continue
			}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// survivors filters pids down to those still running. Zombies waiting for
// their new parent to reap them are not counted.
func survivors(pids []int32) []int32 {
	var alive []int32
	for _, pid := range pids {
		ok, err := process.PidExists(pid)
		if err != nil || !ok {
			continue
		}

		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		if status, err := p.Status(); err == nil && slices.Contains(status, process.Zombie) {
			continue
		}
		alive = append(alive, pid)
	}
	return alive
}
