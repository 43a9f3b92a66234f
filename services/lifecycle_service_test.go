package services

import (
	"errors"
	"testing"
	"time"

	"rentlock-http-service/models"

	"gorm.io/gorm"
)

func newLifecycleFixture(t *testing.T) (*LifecycleService, *fakeClock) {
	t.Helper()
	db := newTestDB(t)
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewLifecycleService(db, testConfig(), clock).(*LifecycleService)
	return svc, clock
}

func upsertCommand(accommodationExtID, reservationExtID string, checkIn, checkOut time.Time, status models.ReservationStatus) LifecycleCommand {
	return LifecycleCommand{
		Type:                    CommandUpsertReservation,
		ReservationExternalID:   reservationExtID,
		AccommodationExternalID: accommodationExtID,
		GuestName:               "张三",
		CheckInAt:               checkIn,
		CheckOutAt:              checkOut,
		Status:                  status,
		Source:                  "webhook",
	}
}

func TestUpsertConfirmedSchedulesGenerateAndRevoke(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	checkIn := clock.Now().Add(48 * time.Hour)
	checkOut := clock.Now().Add(96 * time.Hour)

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if result.Reservation.Status != models.ReservationStatusConfirmed {
		t.Errorf("预订状态 = %s, 期望 CONFIRMED", result.Reservation.Status)
	}

	generates := findActions(result.Actions, ActionScheduleGenerate)
	if len(generates) != 1 {
		t.Fatalf("生成意图数 = %d, 期望 1", len(generates))
	}
	if !generates[0].RunAt.Equal(checkIn) {
		t.Errorf("生成任务时间 = %v, 期望入住时间 %v", generates[0].RunAt, checkIn)
	}

	revokes := findActions(result.Actions, ActionScheduleRevoke)
	if len(revokes) != 1 {
		t.Fatalf("撤销意图数 = %d, 期望 1", len(revokes))
	}
	if !revokes[0].RunAt.Equal(checkOut) {
		t.Errorf("撤销任务时间 = %v, 期望退房时间 %v", revokes[0].RunAt, checkOut)
	}

	var saved models.Reservation
	if err := svc.DB.Where("external_id = ?", "res-1").First(&saved).Error; err != nil {
		t.Fatalf("预订未持久化: %v", err)
	}
}

func TestUpsertPendingProducesNoActions(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(24*time.Hour), clock.Now().Add(48*time.Hour), models.ReservationStatusPending))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if len(result.Actions) != 0 {
		t.Errorf("PENDING预订不应产生意图, 得到 %d 个", len(result.Actions))
	}
}

func TestUpsertUnmappedAccommodationProducesNoActions(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedUnmappedAccommodation(t, svc.DB, "acc-1")

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(24*time.Hour), clock.Now().Add(48*time.Hour), models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if len(result.Actions) != 0 {
		t.Errorf("未绑定锁的房源不应产生意图, 得到 %d 个", len(result.Actions))
	}
}

func TestUpsertUnknownAccommodation(t *testing.T) {
	svc, clock := newLifecycleFixture(t)

	_, err := svc.ApplyCommand(upsertCommand("no-such", "res-1",
		clock.Now().Add(24*time.Hour), clock.Now().Add(48*time.Hour), models.ReservationStatusConfirmed))
	if !errors.Is(err, ErrUnknownAccommodation) {
		t.Errorf("err = %v, 期望 ErrUnknownAccommodation", err)
	}
}

func TestUpsertInvalidDates(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	_, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(48*time.Hour), clock.Now().Add(24*time.Hour), models.ReservationStatusConfirmed))
	if !errors.Is(err, ErrInvalidDates) {
		t.Errorf("err = %v, 期望 ErrInvalidDates", err)
	}
}

func TestLateCheckInSchedulesImmediateGenerate(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	// 入住时间已过但退房时间未到：生成任务立即到期
	checkIn := clock.Now().Add(-2 * time.Hour)
	checkOut := clock.Now().Add(24 * time.Hour)

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	generates := findActions(result.Actions, ActionScheduleGenerate)
	if len(generates) != 1 {
		t.Fatalf("生成意图数 = %d, 期望 1", len(generates))
	}
	if !generates[0].RunAt.Equal(clock.Now()) {
		t.Errorf("晚到的确认事件应立即生成, RunAt = %v", generates[0].RunAt)
	}
}

func TestUpsertAfterCheckoutProducesNoActions(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(-72*time.Hour), clock.Now().Add(-24*time.Hour), models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if len(result.Actions) != 0 {
		t.Errorf("退房时间已过不应再发放凭证, 得到 %d 个意图", len(result.Actions))
	}
}

func TestCancelRevokesActiveCredential(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	_, lock := seedMappedAccommodation(t, svc.DB, "acc-1")

	checkIn := clock.Now().Add(-24 * time.Hour)
	checkOut := clock.Now().Add(24 * time.Hour)
	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	credential := models.Credential{
		ReservationID: result.Reservation.ID,
		ActiveKey:     &result.Reservation.ID,
		LockID:        lock.ID,
		PinHash:       "hash",
		Status:        models.CredentialStatusActive,
		ValidFrom:     checkIn,
		ValidTo:       checkOut,
	}
	if err := svc.DB.Create(&credential).Error; err != nil {
		t.Fatalf("创建凭证失败: %v", err)
	}

	cancelled, err := svc.ApplyCommand(LifecycleCommand{
		Type:                  CommandCancelReservation,
		ReservationExternalID: "res-1",
		Source:                "webhook",
	})
	if err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	if cancelled.Reservation.Status != models.ReservationStatusCancelled {
		t.Errorf("预订状态 = %s, 期望 CANCELLED", cancelled.Reservation.Status)
	}

	if len(findActions(cancelled.Actions, ActionCancelJobs)) != 1 {
		t.Error("取消应产生CancelJobs意图")
	}
	revokes := findActions(cancelled.Actions, ActionRevokeNow)
	if len(revokes) != 1 {
		t.Fatalf("立即撤销意图数 = %d, 期望 1", len(revokes))
	}
	if revokes[0].CredentialID != credential.ID {
		t.Errorf("撤销目标凭证 = %d, 期望 %d", revokes[0].CredentialID, credential.ID)
	}
}

func TestCancelUnknownReservation(t *testing.T) {
	svc, _ := newLifecycleFixture(t)

	_, err := svc.ApplyCommand(LifecycleCommand{
		Type:                  CommandCancelReservation,
		ReservationExternalID: "no-such",
		Source:                "webhook",
	})
	if !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("err = %v, 期望 ErrUnknownReservation", err)
	}
}

func TestLateEventOnTerminalReservationIgnored(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	checkIn := clock.Now().Add(24 * time.Hour)
	checkOut := clock.Now().Add(48 * time.Hour)
	if _, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed)); err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if _, err := svc.ApplyCommand(LifecycleCommand{
		Type:                  CommandCancelReservation,
		ReservationExternalID: "res-1",
		Source:                "webhook",
	}); err != nil {
		t.Fatalf("取消失败: %v", err)
	}

	// 晚到的更新事件：记录后忽略，状态不回退
	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		checkIn.Add(time.Hour), checkOut.Add(time.Hour), models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if !result.Ignored {
		t.Error("终态预订的晚到事件应标记Ignored")
	}

	var saved models.Reservation
	svc.DB.Where("external_id = ?", "res-1").First(&saved)
	if saved.Status != models.ReservationStatusCancelled {
		t.Errorf("预订状态 = %s, 终态不应被晚到事件改写", saved.Status)
	}
	if !saved.CheckInAt.Equal(checkIn) {
		t.Error("终态预订的日期不应被晚到事件改写")
	}
}

func TestMarkNoShowIsTerminal(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	if _, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(-2*time.Hour), clock.Now().Add(24*time.Hour), models.ReservationStatusConfirmed)); err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	result, err := svc.ApplyCommand(LifecycleCommand{
		Type:                  CommandMarkNoShow,
		ReservationExternalID: "res-1",
		Source:                "operator",
	})
	if err != nil {
		t.Fatalf("标记未入住失败: %v", err)
	}
	if result.Reservation.Status != models.ReservationStatusNoShow {
		t.Errorf("预订状态 = %s, 期望 NO_SHOW", result.Reservation.Status)
	}
	if !result.Reservation.Status.IsTerminal() {
		t.Error("NO_SHOW应是终态")
	}
}

func TestDateChangeInsideWindowUpdatesCredentialInPlace(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	_, lock := seedMappedAccommodation(t, svc.DB, "acc-1")

	// 客人已入住，延长退房时间
	checkIn := clock.Now().Add(-24 * time.Hour)
	checkOut := clock.Now().Add(24 * time.Hour)
	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	credential := models.Credential{
		ReservationID: result.Reservation.ID,
		ActiveKey:     &result.Reservation.ID,
		LockID:        lock.ID,
		PinHash:       "hash",
		Status:        models.CredentialStatusActive,
		ValidFrom:     checkIn,
		ValidTo:       checkOut,
	}
	if err := svc.DB.Create(&credential).Error; err != nil {
		t.Fatalf("创建凭证失败: %v", err)
	}

	newCheckOut := checkOut.Add(48 * time.Hour)
	revised, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, newCheckOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("日期变更失败: %v", err)
	}

	// 凭证原地更新，不撤销重发
	if len(findActions(revised.Actions, ActionRevokeNow)) != 0 {
		t.Error("窗口内日期变更不应撤销凭证")
	}
	revokes := findActions(revised.Actions, ActionScheduleRevoke)
	if len(revokes) != 1 || !revokes[0].RunAt.Equal(newCheckOut) {
		t.Fatalf("撤销任务应重排到新退房时间, actions = %+v", revised.Actions)
	}

	var saved models.Credential
	svc.DB.First(&saved, credential.ID)
	if !saved.ValidTo.Equal(newCheckOut) {
		t.Errorf("凭证有效期 = %v, 期望 %v", saved.ValidTo, newCheckOut)
	}
	if saved.Status != models.CredentialStatusActive {
		t.Errorf("凭证状态 = %s, 期望保持 ACTIVE", saved.Status)
	}
}

func TestDateShiftToFutureRevokesAndReissues(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	_, lock := seedMappedAccommodation(t, svc.DB, "acc-1")

	checkIn := clock.Now().Add(-2 * time.Hour)
	checkOut := clock.Now().Add(24 * time.Hour)
	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	credential := models.Credential{
		ReservationID: result.Reservation.ID,
		ActiveKey:     &result.Reservation.ID,
		LockID:        lock.ID,
		PinHash:       "hash",
		Status:        models.CredentialStatusActive,
		ValidFrom:     checkIn,
		ValidTo:       checkOut,
	}
	if err := svc.DB.Create(&credential).Error; err != nil {
		t.Fatalf("创建凭证失败: %v", err)
	}

	// 入住时间移到未来：现有凭证失去依据
	newCheckIn := clock.Now().Add(72 * time.Hour)
	newCheckOut := clock.Now().Add(120 * time.Hour)
	revised, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", newCheckIn, newCheckOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("日期变更失败: %v", err)
	}

	if len(findActions(revised.Actions, ActionRevokeNow)) != 1 {
		t.Error("入住时间移到未来应立即撤销现有凭证")
	}
	generates := findActions(revised.Actions, ActionScheduleGenerate)
	if len(generates) != 1 || !generates[0].RunAt.Equal(newCheckIn) {
		t.Fatalf("应在新入住时间重新调度生成, actions = %+v", revised.Actions)
	}
}

func TestReevaluateCredentialedReschedulesRevokeOnly(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	accommodation, lock := seedMappedAccommodation(t, svc.DB, "acc-1")

	checkIn := clock.Now().Add(24 * time.Hour)
	checkOut := clock.Now().Add(48 * time.Hour)
	first, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1", checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	if _, err := svc.ApplyCommand(upsertCommand("acc-1", "res-2",
		checkIn.Add(72*time.Hour), checkOut.Add(72*time.Hour), models.ReservationStatusConfirmed)); err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	// res-1已有生效凭证，补偿扫描不再发放，只重挂退房撤销
	credential := models.Credential{
		ReservationID: first.Reservation.ID,
		ActiveKey:     &first.Reservation.ID,
		LockID:        lock.ID,
		PinHash:       "hash",
		Status:        models.CredentialStatusActive,
		ValidFrom:     checkIn,
		ValidTo:       checkOut,
	}
	if err := svc.DB.Create(&credential).Error; err != nil {
		t.Fatalf("创建凭证失败: %v", err)
	}

	actions, err := svc.ReevaluateAccommodation(accommodation.ID)
	if err != nil {
		t.Fatalf("补偿扫描失败: %v", err)
	}

	generates := findActions(actions, ActionScheduleGenerate)
	if len(generates) != 1 {
		t.Fatalf("生成意图数 = %d, 期望仅res-2的1个", len(generates))
	}

	var second models.Reservation
	svc.DB.Where("external_id = ?", "res-2").First(&second)
	if generates[0].ReservationID != second.ID {
		t.Errorf("生成意图指向预订 %d, 期望 %d", generates[0].ReservationID, second.ID)
	}

	// res-1的撤销任务在扫描中重建（进程重启后恢复队列依赖这一点）
	var firstRevoke *Action
	revokes := findActions(actions, ActionScheduleRevoke)
	for i := range revokes {
		if revokes[i].ReservationID == first.Reservation.ID {
			firstRevoke = &revokes[i]
		}
	}
	if firstRevoke == nil {
		t.Fatal("已有凭证的预订应重挂退房撤销任务")
	}
	if !firstRevoke.RunAt.Equal(checkOut) {
		t.Errorf("撤销执行时间 = %v, 期望退房时间 %v", firstRevoke.RunAt, checkOut)
	}
}

func TestCompleteReservation(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(-48*time.Hour), clock.Now().Add(-2*time.Hour), models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	if err := svc.CompleteReservation(result.Reservation.ID); err != nil {
		t.Fatalf("推进COMPLETED失败: %v", err)
	}

	var saved models.Reservation
	svc.DB.First(&saved, result.Reservation.ID)
	if saved.Status != models.ReservationStatusCompleted {
		t.Errorf("预订状态 = %s, 期望 COMPLETED", saved.Status)
	}

	// 终态幂等
	if err := svc.CompleteReservation(result.Reservation.ID); err != nil {
		t.Fatalf("重复推进应为空操作: %v", err)
	}
}

func TestStaleReservationWriteRejected(t *testing.T) {
	svc, clock := newLifecycleFixture(t)
	seedMappedAccommodation(t, svc.DB, "acc-1")

	result, err := svc.ApplyCommand(upsertCommand("acc-1", "res-1",
		clock.Now().Add(24*time.Hour), clock.Now().Add(48*time.Hour), models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}

	var loaded models.Reservation
	if err := svc.DB.First(&loaded, result.Reservation.ID).Error; err != nil {
		t.Fatalf("读取预订失败: %v", err)
	}
	staleAt := loaded.UpdatedAt

	// 另一个写者先行提交，updated_at前移
	loaded.GuestName = "赵六"
	if err := svc.DB.Save(&loaded).Error; err != nil {
		t.Fatalf("并发写入失败: %v", err)
	}

	// 基于过期快照的写回被乐观检查拒绝
	loaded.Status = models.ReservationStatusCancelled
	err = svc.DB.Transaction(func(tx *gorm.DB) error {
		return saveReservationGuarded(tx, &loaded, staleAt)
	})
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("err = %v, 期望 ErrConcurrentUpdate", err)
	}
	var saved models.Reservation
	svc.DB.First(&saved, result.Reservation.ID)
	if saved.Status != models.ReservationStatusConfirmed {
		t.Errorf("过期写入不应落库, 预订状态 = %s", saved.Status)
	}

	// 重读最新快照后写回成功，命令重放走的就是这条路
	var fresh models.Reservation
	svc.DB.First(&fresh, result.Reservation.ID)
	freshAt := fresh.UpdatedAt
	fresh.Status = models.ReservationStatusCancelled
	if err := svc.DB.Transaction(func(tx *gorm.DB) error {
		return saveReservationGuarded(tx, &fresh, freshAt)
	}); err != nil {
		t.Fatalf("最新快照写回失败: %v", err)
	}
}
