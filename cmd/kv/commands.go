package kv

import (
	"fmt"
	"os"
	"sort"

	"github.com/ValentinKolb/ixmap/cmd/util"
	"github.com/ValentinKolb/ixmap/lib/store"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: withMap(func(m store.IMap[string, any], conf *util.Config, args []string) error {
			key := args[0]
			value := util.ParseValue(conf.Codec, args[1])
			if prev, existed, err := m.Put(key, value); err != nil {
				return err
			} else if existed {
				fmt.Printf("put successfully (previous=%s)\n", util.FormatValue(prev))
			} else {
				fmt.Println("put successfully")
			}
			return nil
		}),
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, args []string) error {
			key := args[0]
			if value, ok, err := m.Get(key); err != nil {
				return err
			} else if ok {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, ok, util.FormatValue(value))
			} else {
				fmt.Printf("key=%s, found=%v\n", key, ok)
			}
			return nil
		}),
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, args []string) error {
			key := args[0]
			if prev, existed, err := m.Remove(key); err != nil {
				return err
			} else if existed {
				fmt.Printf("delete successfully (previous=%s)\n", util.FormatValue(prev))
			} else {
				fmt.Printf("key=%s not found\n", key)
			}
			return nil
		}),
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, args []string) error {
			key := args[0]
			if found, err := m.ContainsKey(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t\n", key, found)
			}
			return nil
		}),
	}
	hasValueCmd = &cobra.Command{
		Use:   "has-value [value]",
		Short: "Checks if at least one key holds a value",
		Args:  cobra.ExactArgs(1),
		RunE: withMap(func(m store.IMap[string, any], conf *util.Config, args []string) error {
			value := util.ParseValue(conf.Codec, args[0])
			if found, err := m.ContainsValue(value); err != nil {
				return err
			} else {
				fmt.Printf("value=%s, found=%t\n", args[0], found)
			}
			return nil
		}),
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of entries",
		Args:  cobra.NoArgs,
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, _ []string) error {
			if size, err := m.Size(); err != nil {
				return err
			} else {
				fmt.Printf("size=%d\n", size)
			}
			return nil
		}),
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Prints all entries sorted by key",
		Args:  cobra.NoArgs,
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, _ []string) error {
			entries, err := m.Entries()
			if err != nil {
				return err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
			for _, e := range entries {
				fmt.Printf("%s=%s\n", e.Key, util.FormatValue(e.Value))
			}
			fmt.Printf("(%d entries)\n", len(entries))
			return nil
		}),
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes all entries",
		Args:  cobra.NoArgs,
		RunE: withMap(func(m store.IMap[string, any], _ *util.Config, _ []string) error {
			if err := m.Clear(); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		}),
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints information and metrics of the index",
		Args:  cobra.NoArgs,
		RunE: withMap(func(m store.IMap[string, any], conf *util.Config, _ []string) error {
			fmt.Println("Configuration:")
			fmt.Println(conf.String())

			info, err := m.Info()
			if err != nil {
				return err
			}
			fmt.Println(info.String())
			fmt.Printf("  health:       %s\n", m.Health())

			fmt.Println()
			fmt.Println("Metrics:")
			m.WriteMetrics(os.Stdout)
			return nil
		}),
	}
)
