package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"innkeep/internal/app"
	"innkeep/internal/domain"
	"innkeep/internal/engine"
	"innkeep/internal/inventory"
	"innkeep/internal/lifecycle"
	"innkeep/internal/repo"
)

func roomCmd() *cobra.Command {
	rm := &cobra.Command{Use: "room", Short: "Manage rooms"}
	rm.AddCommand(roomAddCmd())
	rm.AddCommand(roomListCmd())
	rm.AddCommand(roomShowCmd())
	rm.AddCommand(roomUpdateCmd())
	rm.AddCommand(roomDeactivateCmd())
	return rm
}

func roomAddCmd() *cobra.Command {
	var in inventory.RoomInput
	var inactive bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				active := !inactive
				in.Active = &active
				room, err := rt.Engine.Rooms.Create(ctx, in)
				if err != nil {
					return err
				}
				return printRooms([]domain.Room{room})
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "room id")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.NightlyRate, "rate", "", "nightly rate")
	cmd.Flags().IntVar(&in.Capacity, "capacity", 1, "maximum guests")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the room closed for booking")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}

func roomListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				rooms, err := rt.Engine.Rooms.List(ctx, all)
				if err != nil {
					return err
				}
				return printRooms(rooms)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive rooms")
	return cmd
}

func roomShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				room, err := rt.Engine.Rooms.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(room)
			})
		},
	}
}

func roomUpdateCmd() *cobra.Command {
	var name, rate string
	var capacity int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a room; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch inventory.RoomPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("rate") {
				patch.NightlyRate = &rate
			}
			if cmd.Flags().Changed("capacity") {
				patch.Capacity = &capacity
			}
			if cmd.Flags().Changed("active") {
				patch.Active = &active
			}
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				room, err := rt.Engine.Rooms.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printRooms([]domain.Room{room})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&rate, "rate", "", "nightly rate")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "maximum guests")
	cmd.Flags().BoolVar(&active, "active", true, "open or close the room for booking")
	return cmd
}

func roomDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Close a room for new bookings; existing reservations stay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				room, err := rt.Engine.Rooms.Deactivate(ctx, args[0])
				if err != nil {
					return err
				}
				return printRooms([]domain.Room{room})
			})
		},
	}
}

func reservationCmd() *cobra.Command {
	res := &cobra.Command{
		Use:     "reservation",
		Aliases: []string{"res"},
		Short:   "Book and manage reservations",
	}
	res.AddCommand(reservationCreateCmd())
	res.AddCommand(reservationShowCmd())
	res.AddCommand(reservationListCmd())
	res.AddCommand(reservationSearchCmd())
	res.AddCommand(reservationStatusCmd("confirm", domain.StatusConfirmed, "Confirm a pending reservation"))
	res.AddCommand(reservationStatusCmd("cancel", domain.StatusCancelled, "Cancel a reservation and free its dates"))
	res.AddCommand(reservationStatusCmd("complete", domain.StatusCompleted, "Complete a stay on or after check-out"))
	res.AddCommand(reservationTransitionsCmd())
	return res
}

func reservationCreateCmd() *cobra.Command {
	var req engine.CreateRequest
	var checkIn, checkOut string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Book a room for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := domain.ParseDateRange(checkIn, checkOut)
			if err != nil {
				return err
			}
			req.CheckIn, req.CheckOut = rng.CheckIn, rng.CheckOut
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Create(ctx, req)
				if err != nil {
					return err
				}
				return printReservations([]domain.Reservation{res})
			})
		},
	}
	cmd.Flags().StringVar(&req.RoomID, "room", "", "room id")
	cmd.Flags().StringVar(&req.GuestID, "guest", "", "guest id")
	cmd.Flags().StringVar(&req.GuestName, "guest-name", "", "guest display name")
	cmd.Flags().StringVar(&checkIn, "check-in", "", "first night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&checkOut, "check-out", "", "departure day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&req.GuestCount, "guests", 1, "number of guests")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	for _, f := range []string{"room", "guest", "check-in", "check-out"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func reservationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func reservationListCmd() *cobra.Command {
	var roomID, from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a room's reservations by check-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := windowFlags(from, to)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListForRoom(ctx, roomID, window)
				if err != nil {
					return err
				}
				return printReservations(items)
			})
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	cmd.Flags().StringVar(&from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end, exclusive (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func reservationSearchCmd() *cobra.Command {
	var f repo.ReservationFilters
	var statuses, from, to string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search all reservations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range strings.Split(statuses, ",") {
				if s = strings.TrimSpace(s); s == "" {
					continue
				}
				st, err := domain.ParseStatus(s)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			window, err := windowFlags(from, to)
			if err != nil {
				return err
			}
			f.Window = window
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Search(ctx, f)
				if err != nil {
					return err
				}
				return printReservations(items)
			})
		},
	}
	cmd.Flags().StringVar(&statuses, "status", "", "comma separated statuses")
	cmd.Flags().StringVar(&f.RoomID, "room", "", "room id")
	cmd.Flags().StringVar(&f.GuestID, "guest", "", "guest id")
	cmd.Flags().StringVar(&from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end, exclusive (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&f.Query, "query", "q", "", "text matched against guest name, notes and id")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func reservationStatusCmd(use string, to domain.Status, short string) *cobra.Command {
	var expected int
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Transition(ctx, engine.TransitionRequest{ID: args[0], Status: string(to), ExpectedVersion: expected})
				if err != nil {
					return err
				}
				return printReservations([]domain.Reservation{res})
			})
		},
	}
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail if the reservation moved past this version")
	return cmd
}

func reservationTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <id>",
		Short: "Statuses a reservation may move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				res, err := rt.Engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": res.ID, "status": res.Status, "allowed": lifecycle.Next(res.Status)})
			})
		},
	}
}

func availabilityCmd() *cobra.Command {
	av := &cobra.Command{Use: "availability", Short: "Query room availability and prices"}
	var roomID, checkIn, checkOut string
	var guests int

	check := &cobra.Command{
		Use:   "check",
		Short: "Is the room free for the whole stay",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := domain.ParseDateRange(checkIn, checkOut)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				a, err := rt.Engine.IsAvailable(ctx, roomID, rng)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"room_id": a.RoomID, "range": a.Range, "available": a.Available, "conflicts": a.Conflicts})
			})
		},
	}
	free := &cobra.Command{
		Use:   "free",
		Short: "Free date ranges of a room inside a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := domain.ParseDateRange(checkIn, checkOut)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				ranges, err := rt.Engine.FreeRanges(ctx, roomID, window)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ranges)
				}
				tw := newTable("Check-in", "Check-out", "Nights")
				for _, r := range ranges {
					tw.AppendRow(table.Row{domain.FormatDate(r.CheckIn), domain.FormatDate(r.CheckOut), r.Nights()})
				}
				tw.Render()
				return nil
			})
		},
	}
	quote := &cobra.Command{
		Use:   "quote",
		Short: "Price a stay without booking it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := domain.ParseDateRange(checkIn, checkOut)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				total, err := rt.Engine.Quote(ctx, roomID, rng, guests)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"room_id": roomID, "range": rng, "nights": rng.Nights(), "guests": guests, "total_price": total.StringFixed(2)})
			})
		},
	}
	for _, c := range []*cobra.Command{check, free, quote} {
		c.Flags().StringVar(&roomID, "room", "", "room id")
		c.Flags().StringVar(&checkIn, "check-in", "", "first night or window start (YYYY-MM-DD)")
		c.Flags().StringVar(&checkOut, "check-out", "", "departure day or window end (YYYY-MM-DD)")
		for _, f := range []string{"room", "check-in", "check-out"} {
			_ = c.MarkFlagRequired(f)
		}
		av.AddCommand(c)
	}
	quote.Flags().IntVar(&guests, "guests", 1, "number of guests")
	return av
}

func windowFlags(from, to string) (*domain.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("--from and --to must be given together")
	}
	w, err := domain.ParseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func printRooms(rooms []domain.Room) error {
	if viper.GetBool("json") {
		return printJSON(rooms)
	}
	tw := newTable("ID", "Name", "Rate", "Capacity", "Active")
	for _, r := range rooms {
		tw.AppendRow(table.Row{r.ID, r.Name, r.NightlyRate.StringFixed(2), r.Capacity, r.Active})
	}
	tw.Render()
	return nil
}

func printReservations(items []domain.Reservation) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Room", "Guest", "Check-in", "Check-out", "Guests", "Total", "Status", "Version")
	for _, r := range items {
		tw.AppendRow(table.Row{
			r.ID, r.RoomID, r.GuestID,
			domain.FormatDate(r.Range.CheckIn), domain.FormatDate(r.Range.CheckOut),
			r.GuestCount, r.TotalPrice.StringFixed(2), r.Status, r.Version,
		})
	}
	tw.Render()
	return nil
}
