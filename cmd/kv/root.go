package kv

import (
	"github.com/ValentinKolb/ixmap/cmd/util"
	"github.com/ValentinKolb/ixmap/lib/store"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var plog = logger.GetLogger("cli")

// Commands holds all map commands, they are added to the root command
var Commands = []*cobra.Command{
	putCmd,
	getCmd,
	delCmd,
	hasCmd,
	hasValueCmd,
	sizeCmd,
	listCmd,
	clearCmd,
	statsCmd,
	perfTestCmd,
}

// withMap opens the configured map, runs fn and closes the map again,
// which commits all writes of fn.
func withMap(fn func(m store.IMap[string, any], conf *util.Config, args []string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		conf, err := util.GetConfig()
		if err != nil {
			return err
		}

		m, err := util.OpenMap(conf)
		if err != nil {
			return err
		}
		plog.Debugf("opened map with configuration:%s", conf)

		var result *multierror.Error
		if err := fn(m, conf, args); err != nil {
			result = multierror.Append(result, err)
		}
		if err := m.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}
}
