package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/registrar-queue/internal/models"
	"qms/registrar-queue/internal/queue"
	"qms/registrar-queue/internal/store"
	"qms/registrar-queue/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addDropID    = "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0001"
	submitFormID = "5d2c8a8e-0b53-4d8e-9a8f-2f6c1b7a0003"
)

var manila = time.FixedZone("PHT", 8*60*60)

type fakeProjector struct {
	mu        sync.Mutex
	published []models.ServiceType
	statuses  []models.QueueStatus
	err       error
}

func (p *fakeProjector) Status(ctx context.Context) ([]models.QueueStatus, error) {
	return p.statuses, p.err
}

func (p *fakeProjector) Publish(ctx context.Context, queueType models.ServiceType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, queueType)
	return p.err
}

type fixture struct {
	engine    *Engine
	store     *memory.Store
	projector *fakeProjector
	now       time.Time
}

func newFixture(t *testing.T, admission queue.Admission) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(memory.DefaultServices()),
		projector: &fakeProjector{},
		now:       time.Date(2024, 11, 17, 9, 15, 0, 0, manila),
	}
	f.engine = New(f.store, f.projector, Options{
		Admission: admission,
		Location:  manila,
		Now:       func() time.Time { return f.now },
	})
	return f
}

func standardRequest(date, window string) CreateTicketRequest {
	return CreateTicketRequest{ServiceID: addDropID, BookingDate: date, TimeWindow: window}
}

func TestCreateStandardTicket(t *testing.T) {
	f := newFixture(t, queue.Admission{})

	booking, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{
		ServiceID:    addDropID,
		ServiceType:  models.ServiceStandard,
		BookingDate:  "2024-11-17",
		TimeWindow:   "08:00-08:30",
		VisitorName:  "Juan Dela Cruz",
		VisitorEmail: "juan@example.edu",
	})
	require.NoError(t, err)
	assert.True(t, booking.Created)
	assert.Equal(t, "S-241117-001", booking.Ticket.BatchNumber)
	assert.Equal(t, 1, booking.Ticket.QueuePosition)
	assert.Equal(t, models.StatusPending, booking.Ticket.Status)
	assert.Equal(t, "2024-11-17", booking.Ticket.Date())
	require.NotNil(t, booking.Service.Checklist)
	assert.Equal(t, "Add/Drop Subjects", booking.Service.Checklist.Name)

	next, err := f.engine.CreateTicket(context.Background(), standardRequest("2024-11-18", "09:00-09:30"))
	require.NoError(t, err)
	assert.Equal(t, "S-241117-002", next.Ticket.BatchNumber, "batch numbers follow the issue day, not the booking day")
	assert.Equal(t, 1, next.Ticket.QueuePosition, "positions restart per booking date")
}

func TestCreateExpressTicket(t *testing.T) {
	f := newFixture(t, queue.Admission{})

	first, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: submitFormID})
	require.NoError(t, err)
	second, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: submitFormID})
	require.NoError(t, err)

	assert.Equal(t, "Q-241117-001", first.Ticket.BatchNumber)
	assert.Equal(t, "Q-241117-002", second.Ticket.BatchNumber)
	assert.Equal(t, models.StatusWaiting, first.Ticket.Status)
	assert.Nil(t, first.Ticket.BookingDate)
	assert.Nil(t, first.Ticket.TimeWindow)
	assert.Equal(t, 2, second.Ticket.QueuePosition)
}

func TestBatchDateFollowsServiceZone(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	// 16:30 UTC on the 17th is already the 18th in Manila.
	f.now = time.Date(2024, 11, 17, 16, 30, 0, 0, time.UTC)

	booking, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: submitFormID})
	require.NoError(t, err)
	assert.Equal(t, "Q-241118-001", booking.Ticket.BatchNumber)

	_, err = f.engine.CreateTicket(context.Background(), standardRequest("2024-11-17", "08:00-08:30"))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "booking_date", validation.Field)
}

func TestCreateTicketValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateTicketRequest
		field string
	}{
		{name: "missing service", req: CreateTicketRequest{}, field: "service_id"},
		{name: "service not a uuid", req: CreateTicketRequest{ServiceID: "add-drop"}, field: "service_id"},
		{name: "request id not a uuid", req: CreateTicketRequest{RequestID: "abc", ServiceID: submitFormID}, field: "request_id"},
		{name: "unknown service type", req: CreateTicketRequest{ServiceID: submitFormID, ServiceType: "vip"}, field: "service_type"},
		{name: "service type mismatch", req: CreateTicketRequest{ServiceID: submitFormID, ServiceType: models.ServiceStandard}, field: "service_type"},
		{name: "standard without date", req: CreateTicketRequest{ServiceID: addDropID, TimeWindow: "08:00-08:30"}, field: "booking_date"},
		{name: "standard with bad date", req: standardRequest("17/11/2024", "08:00-08:30"), field: "booking_date"},
		{name: "standard in the past", req: standardRequest("2024-11-16", "08:00-08:30"), field: "booking_date"},
		{name: "standard without window", req: standardRequest("2024-11-17", ""), field: "time_window"},
		{name: "standard lunch window", req: standardRequest("2024-11-17", "12:00-12:30"), field: "time_window"},
		{name: "express with date", req: CreateTicketRequest{ServiceID: submitFormID, BookingDate: "2024-11-17"}, field: "booking_date"},
		{name: "express with window", req: CreateTicketRequest{ServiceID: submitFormID, TimeWindow: "08:00-08:30"}, field: "time_window"},
		{name: "bad email", req: CreateTicketRequest{ServiceID: submitFormID, VisitorEmail: "not-an-email"}, field: "visitor_email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, queue.Admission{})
			_, err := f.engine.CreateTicket(context.Background(), tt.req)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.field, validation.Field)

			tickets, err := f.engine.GetQueue(context.Background(), models.ServiceStandard, store.QueueFilter{})
			require.NoError(t, err)
			assert.Empty(t, tickets)
		})
	}
}

func TestCreateTicketUnknownService(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	_, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: uuid.NewString()})
	assert.ErrorIs(t, err, store.ErrServiceNotFound)
}

func TestCreateTicketReplaysRequestID(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	req := CreateTicketRequest{RequestID: uuid.NewString(), ServiceID: submitFormID}

	first, err := f.engine.CreateTicket(context.Background(), req)
	require.NoError(t, err)
	again, err := f.engine.CreateTicket(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, again.Created)
	assert.Equal(t, first.Ticket.TicketID, again.Ticket.TicketID)
	assert.Equal(t, first.Ticket.BatchNumber, again.Ticket.BatchNumber)
}

func TestSlotCapacity(t *testing.T) {
	f := newFixture(t, queue.Admission{Capacity: 2})
	ctx := context.Background()

	first, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	require.NoError(t, err)
	_, err = f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	require.NoError(t, err)

	_, err = f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	assert.ErrorIs(t, err, store.ErrSlotFull)

	other, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:30-09:00"))
	require.NoError(t, err)
	assert.Equal(t, "S-241117-003", other.Ticket.BatchNumber, "a rejected booking consumes no batch number")

	_, _, err = f.engine.Cancel(ctx, first.Ticket.TicketID)
	require.NoError(t, err)
	_, err = f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	assert.NoError(t, err, "cancelling frees the slot")
}

func TestSlotCountFailure(t *testing.T) {
	countErr := errors.New("connection reset")

	t.Run("fail open admits", func(t *testing.T) {
		f := newFixture(t, queue.Admission{Capacity: 1, OnError: queue.AdmitOnError})
		f.store.FailSlotCounts(countErr)
		for i := 0; i < 3; i++ {
			_, err := f.engine.CreateTicket(context.Background(), standardRequest("2024-11-17", "08:00-08:30"))
			require.NoError(t, err)
		}
	})

	t.Run("deny rejects", func(t *testing.T) {
		f := newFixture(t, queue.Admission{OnError: queue.RejectOnError})
		f.store.FailSlotCounts(countErr)
		_, err := f.engine.CreateTicket(context.Background(), standardRequest("2024-11-17", "08:00-08:30"))
		assert.ErrorIs(t, err, store.ErrAdmissionUnavailable)

		_, err = f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: submitFormID})
		assert.NoError(t, err, "express bookings never count slots")
	})
}

func TestSlotAvailability(t *testing.T) {
	f := newFixture(t, queue.Admission{Capacity: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-18", "08:00-08:30"))
		require.NoError(t, err)
	}
	_, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-18", "13:00-13:30"))
	require.NoError(t, err)

	slots, err := f.engine.SlotAvailability(ctx, "2024-11-18")
	require.NoError(t, err)
	require.Len(t, slots, 14)
	assert.Equal(t, models.SlotAvailability{TimeWindow: "08:00-08:30", Booked: 2, Capacity: 2, Available: false}, slots[0])
	assert.Equal(t, models.SlotAvailability{TimeWindow: "08:30-09:00", Booked: 0, Capacity: 2, Available: true}, slots[1])
	assert.Equal(t, models.SlotAvailability{TimeWindow: "13:00-13:30", Booked: 1, Capacity: 2, Available: true}, slots[8])

	ok, err := f.engine.CheckSlotAvailable(ctx, "2024-11-18", "08:00-08:30")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.engine.CheckSlotAvailable(ctx, "2024-11-18", "13:00-13:30")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.engine.CheckSlotAvailable(ctx, "2024-11-18", "12:00-12:30")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
	_, err = f.engine.SlotAvailability(ctx, "tomorrow")
	assert.ErrorAs(t, err, &validation)
}

func TestSlotAvailabilityCountFailure(t *testing.T) {
	countErr := errors.New("timeout")

	open := newFixture(t, queue.Admission{OnError: queue.AdmitOnError})
	open.store.FailSlotCounts(countErr)
	slots, err := open.engine.SlotAvailability(context.Background(), "2024-11-18")
	require.NoError(t, err)
	for _, slot := range slots {
		assert.True(t, slot.Available, slot.TimeWindow)
	}
	ok, err := open.engine.CheckSlotAvailable(context.Background(), "2024-11-18", "08:00-08:30")
	require.NoError(t, err)
	assert.True(t, ok)

	closed := newFixture(t, queue.Admission{OnError: queue.RejectOnError})
	closed.store.FailSlotCounts(countErr)
	_, err = closed.engine.SlotAvailability(context.Background(), "2024-11-18")
	assert.ErrorIs(t, err, store.ErrAdmissionUnavailable)
	_, err = closed.engine.CheckSlotAvailable(context.Background(), "2024-11-18", "08:00-08:30")
	assert.ErrorIs(t, err, store.ErrAdmissionUnavailable)
}

func TestCallNextStandardOrder(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()

	later, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "09:00-09:30"))
	require.NoError(t, err)
	tomorrow, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-18", "08:00-08:30"))
	require.NoError(t, err)
	early, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	require.NoError(t, err)

	var served []string
	for i := 0; i < 3; i++ {
		ticket, found, err := f.engine.CallNext(ctx, models.ServiceStandard)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, models.StatusNowServing, ticket.Status)
		served = append(served, ticket.TicketID)
	}
	assert.Equal(t, []string{early.Ticket.TicketID, later.Ticket.TicketID, tomorrow.Ticket.TicketID}, served)

	previous, err := f.engine.GetTicket(ctx, later.Ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, previous.Status, "calling the next ticket completes the one being served")

	statuses, err := f.store.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, tomorrow.Ticket.BatchNumber, statuses[0].CurrentBatchNumber)
	assert.Equal(t, "08:00-08:30", statuses[0].CurrentTimeWindow)
	assert.Equal(t, []models.ServiceType{models.ServiceStandard, models.ServiceStandard, models.ServiceStandard}, f.projector.published)
}

func TestCallNextSkipsPastBookings(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()

	_, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	require.NoError(t, err)
	f.now = f.now.Add(24 * time.Hour)

	_, found, err := f.engine.CallNext(ctx, models.ServiceStandard)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCallNextEmptyQueue(t *testing.T) {
	f := newFixture(t, queue.Admission{})

	ticket, found, err := f.engine.CallNext(context.Background(), models.ServiceExpress)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, ticket.TicketID)
	assert.Empty(t, f.projector.published)

	_, _, err = f.engine.CallNext(context.Background(), "priority")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestCallNextPublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	f.projector.err = errors.New("redis down")

	_, err := f.engine.CreateTicket(context.Background(), CreateTicketRequest{ServiceID: submitFormID})
	require.NoError(t, err)
	ticket, found, err := f.engine.CallNext(context.Background(), models.ServiceExpress)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Q-241117-001", ticket.BatchNumber)
}

func TestConcurrentCallNextServesEachTicketOnce(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()
	const tickets = 20
	for i := 0; i < tickets; i++ {
		_, err := f.engine.CreateTicket(ctx, CreateTicketRequest{ServiceID: submitFormID})
		require.NoError(t, err)
	}

	var (
		mu     sync.Mutex
		seen   = map[string]int{}
		wg     sync.WaitGroup
		errs   = make(chan error, tickets+5)
		misses int
	)
	for i := 0; i < tickets+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, found, err := f.engine.CallNext(ctx, models.ServiceExpress)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !found {
				misses++
				return
			}
			seen[ticket.TicketID]++
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("call next: %v", err)
	}

	assert.Len(t, seen, tickets)
	assert.Equal(t, 5, misses)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}

	queueTickets, err := f.engine.GetQueue(ctx, models.ServiceExpress, store.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, queueTickets, 1)
	assert.Equal(t, models.StatusNowServing, queueTickets[0].Status)
}

func TestCompleteAndCancel(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()

	booking, err := f.engine.CreateTicket(ctx, CreateTicketRequest{ServiceID: submitFormID})
	require.NoError(t, err)
	_, _, err = f.engine.CallNext(ctx, models.ServiceExpress)
	require.NoError(t, err)

	completed, changed, err := f.engine.Complete(ctx, booking.Ticket.TicketID)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, completed.CompletedAt)

	f.now = f.now.Add(time.Minute)
	again, changed, err := f.engine.Complete(ctx, booking.Ticket.TicketID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, *completed.CompletedAt, *again.CompletedAt)

	_, _, err = f.engine.Cancel(ctx, booking.Ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, _, err = f.engine.Complete(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	_, _, err = f.engine.Cancel(ctx, "ticket-1")
	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestGetQueueFilters(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()

	_, err := f.engine.CreateTicket(ctx, standardRequest("2024-11-17", "08:00-08:30"))
	require.NoError(t, err)
	_, err = f.engine.CreateTicket(ctx, standardRequest("2024-11-18", "08:00-08:30"))
	require.NoError(t, err)

	tickets, err := f.engine.GetQueue(ctx, models.ServiceStandard, store.QueueFilter{BookingDate: "2024-11-18"})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "2024-11-18", tickets[0].Date())

	var validation *ValidationError
	_, err = f.engine.GetQueue(ctx, models.ServiceStandard, store.QueueFilter{BookingDate: "18-11-2024"})
	assert.ErrorAs(t, err, &validation)
	_, err = f.engine.GetQueue(ctx, models.ServiceStandard, store.QueueFilter{Statuses: []models.Status{"done"}})
	assert.ErrorAs(t, err, &validation)
}

func TestGetStatusReadsProjector(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	f.projector.statuses = []models.QueueStatus{{QueueType: models.ServiceExpress, CurrentBatchNumber: "Q-241117-009"}}

	statuses, err := f.engine.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.projector.statuses, statuses)

	direct := New(f.store, nil, Options{Location: manila, Now: func() time.Time { return f.now }})
	statuses, err = direct.GetStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, models.ServiceStandard, statuses[0].QueueType)
	assert.Empty(t, statuses[0].CurrentBatchNumber)
}

func TestListServicesAttachesChecklists(t *testing.T) {
	f := newFixture(t, queue.Admission{})

	services, err := f.engine.ListServices(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 5)
	for _, service := range services {
		require.NotNil(t, service.Checklist, service.ServiceKey)
		assert.NotEmpty(t, service.Checklist.Items)
	}
}

func TestTicketHistory(t *testing.T) {
	f := newFixture(t, queue.Admission{})
	ctx := context.Background()

	booking, err := f.engine.CreateTicket(ctx, CreateTicketRequest{ServiceID: submitFormID, VisitorEmail: "ana@example.edu"})
	require.NoError(t, err)
	_, _, err = f.engine.CallNext(ctx, models.ServiceExpress)
	require.NoError(t, err)
	_, _, err = f.engine.Complete(ctx, booking.Ticket.TicketID)
	require.NoError(t, err)

	history, err := f.engine.TicketHistory(ctx, booking.Ticket.TicketID)
	require.NoError(t, err)
	require.Len(t, history.Events, 3)
	assert.Equal(t, store.EventTicketCreated, history.Events[0].Type)
	assert.Equal(t, store.EventTicketCompleted, history.Events[2].Type)
	assert.Equal(t, models.StatusCompleted, history.Ticket.Status)
	assert.Equal(t, booking.Ticket.BatchNumber, history.Ticket.BatchNumber)

	_, err = f.engine.TicketHistory(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{invalid("date", "bad"), outcomeValidation},
		{store.ErrTicketNotFound, outcomeNotFound},
		{store.ErrServiceNotFound, outcomeNotFound},
		{store.ErrSlotFull, outcomeRejected},
		{store.ErrInvalidState, outcomeConflict},
		{errors.New("boom"), outcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}
