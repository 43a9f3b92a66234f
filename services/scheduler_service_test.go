package services

import (
	"errors"
	"testing"
	"time"

	"rentlock-http-service/models"

	"gorm.io/gorm"
)

type schedulerFixture struct {
	scheduler *SchedulerService
	lifecycle *LifecycleService
	gateway   *fakeGateway
	clock     *fakeClock
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{}
	lifecycle := NewLifecycleService(db, cfg, clock).(*LifecycleService)
	scheduler := NewSchedulerService(db, cfg, clock, gateway, lifecycle)
	return &schedulerFixture{
		scheduler: scheduler,
		lifecycle: lifecycle,
		gateway:   gateway,
		clock:     clock,
	}
}

// confirmReservation 建立房源+锁+确认预订并派发调度意图
func (f *schedulerFixture) confirmReservation(t *testing.T, extID string, checkIn, checkOut time.Time) *models.Reservation {
	t.Helper()
	seedMappedAccommodation(t, f.scheduler.DB, "acc-"+extID)
	result, err := f.lifecycle.ApplyCommand(upsertCommand("acc-"+extID, extID, checkIn, checkOut, models.ReservationStatusConfirmed))
	if err != nil {
		t.Fatalf("ApplyCommand失败: %v", err)
	}
	f.scheduler.Dispatch(result.Actions)
	return result.Reservation
}

func (f *schedulerFixture) activeCredential(t *testing.T, reservationID uint) *models.Credential {
	t.Helper()
	var credential models.Credential
	err := f.scheduler.DB.Where("reservation_id = ? AND status = ?", reservationID, models.CredentialStatusActive).First(&credential).Error
	if err != nil {
		return nil
	}
	return &credential
}

func TestGenerateJobIssuesCredential(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(24*time.Hour), f.clock.Now().Add(48*time.Hour))

	// 入住时间未到，任务不执行
	if n := f.scheduler.RunDueJobs(); n != 0 {
		t.Fatalf("提前执行了 %d 个任务", n)
	}

	f.clock.Advance(24 * time.Hour)
	if n := f.scheduler.RunDueJobs(); n != 1 {
		t.Fatalf("执行任务数 = %d, 期望 1", n)
	}

	credential := f.activeCredential(t, reservation.ID)
	if credential == nil {
		t.Fatal("未创建生效凭证")
	}
	if !credential.DeviceConfirmed() {
		t.Error("凭证应已被设备确认")
	}
	if !credential.ValidFrom.Equal(reservation.CheckInAt) || !credential.ValidTo.Equal(reservation.CheckOutAt) {
		t.Error("凭证有效期应覆盖预订窗口")
	}

	calls := f.gateway.setPinCalls()
	if len(calls) != 1 {
		t.Fatalf("下发调用数 = %d, 期望 1", len(calls))
	}
	if len(calls[0].Pin) != f.scheduler.Config.PinLength {
		t.Errorf("PIN长度 = %d, 期望 %d", len(calls[0].Pin), f.scheduler.Config.PinLength)
	}
}

func TestGenerateRetryReusesSamePin(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(48*time.Hour))

	// 首次执行网关超时：凭证已落库但未确认
	f.gateway.failSet(ErrGatewayTimeout)
	if n := f.scheduler.RunDueJobs(); n != 1 {
		t.Fatalf("执行任务数 = %d, 期望 1", n)
	}

	credential := f.activeCredential(t, reservation.ID)
	if credential == nil {
		t.Fatal("重试前应已创建凭证行")
	}
	if credential.DeviceConfirmed() {
		t.Fatal("网关失败后凭证不应被确认")
	}

	// 退避后重试：只补设备调用，不重复写库
	f.gateway.failSet(nil)
	f.clock.Advance(2 * f.scheduler.Config.JobBackoffBase)
	if n := f.scheduler.RunDueJobs(); n != 1 {
		t.Fatalf("重试执行数 = %d, 期望 1", n)
	}

	var count int64
	f.scheduler.DB.Model(&models.Credential{}).Where("reservation_id = ?", reservation.ID).Count(&count)
	if count != 1 {
		t.Errorf("凭证行数 = %d, 重试不应重复发放", count)
	}

	after := f.activeCredential(t, reservation.ID)
	if after == nil || !after.DeviceConfirmed() {
		t.Error("重试成功后凭证应被确认")
	}
}

func TestGenerateStaleJobSkipped(t *testing.T) {
	f := newSchedulerFixture(t)
	f.confirmReservation(t, "res-1",
		f.clock.Now().Add(time.Hour), f.clock.Now().Add(48*time.Hour))

	// 任务入队后预订被取消，且取消意图（含CancelJobs）未送达调度器，
	// 模拟竞态下的陈旧任务
	f.scheduler.DB.Model(&models.Reservation{}).Where("external_id = ?", "res-1").
		Update("status", models.ReservationStatusCancelled)

	f.clock.Advance(2 * time.Hour)
	f.scheduler.RunDueJobs()

	if len(f.gateway.setPinCalls()) != 0 {
		t.Error("陈旧任务不应触碰设备")
	}
	var count int64
	f.scheduler.DB.Model(&models.Credential{}).Count(&count)
	if count != 0 {
		t.Error("陈旧任务不应发放凭证")
	}
	if len(f.scheduler.DeadLetters()) != 0 {
		t.Error("陈旧任务应静默完成而非进入错误队列")
	}
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	f := newSchedulerFixture(t)

	first := f.scheduler.Schedule(JobTypeGeneratePin, 1, f.clock.Now().Add(time.Hour), "")
	newRunAt := f.clock.Now().Add(3 * time.Hour)
	second := f.scheduler.Schedule(JobTypeGeneratePin, 1, newRunAt, "")

	if first != second {
		t.Error("同键重复入队应替换而非新建")
	}

	pending := f.scheduler.PendingJobs()
	if len(pending) != 1 {
		t.Fatalf("待执行任务数 = %d, 期望 1", len(pending))
	}
	if !pending[0].RunAt.Equal(newRunAt) {
		t.Errorf("任务时间 = %v, 期望替换为 %v", pending[0].RunAt, newRunAt)
	}
}

func TestCancelJobsRemovesPending(t *testing.T) {
	f := newSchedulerFixture(t)

	f.scheduler.Schedule(JobTypeGeneratePin, 1, f.clock.Now().Add(time.Hour), "")
	f.scheduler.Schedule(JobTypeRevokePin, 1, f.clock.Now().Add(2*time.Hour), "checkout")
	f.scheduler.Schedule(JobTypeGeneratePin, 2, f.clock.Now().Add(time.Hour), "")

	f.scheduler.CancelJobs(1)

	pending := f.scheduler.PendingJobs()
	if len(pending) != 1 {
		t.Fatalf("待执行任务数 = %d, 期望仅剩预订2的1个", len(pending))
	}
	if pending[0].ReservationID != 2 {
		t.Errorf("剩余任务属于预订 %d, 期望 2", pending[0].ReservationID)
	}
}

func TestRetryExhaustionGoesToDeadLetter(t *testing.T) {
	f := newSchedulerFixture(t)
	f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(48*time.Hour))

	f.gateway.failSet(ErrGatewayUnavailable)

	// 每轮执行后按指数退避推进时钟，直到重试耗尽
	for i := 0; i < f.scheduler.Config.JobMaxAttempts; i++ {
		f.scheduler.RunDueJobs()
		f.clock.Advance(f.scheduler.Config.JobBackoffBase * time.Duration(1<<uint(i)))
	}

	dead := f.scheduler.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("死信数 = %d, 期望 1", len(dead))
	}
	if dead[0].Job.Type != JobTypeGeneratePin {
		t.Errorf("死信任务类型 = %s, 期望 generate_pin", dead[0].Job.Type)
	}
	if dead[0].Job.Attempts != f.scheduler.Config.JobMaxAttempts {
		t.Errorf("尝试次数 = %d, 期望 %d", dead[0].Job.Attempts, f.scheduler.Config.JobMaxAttempts)
	}

	// 生成任务不再排队
	for _, job := range f.scheduler.PendingJobs() {
		if job.Type == JobTypeGeneratePin {
			t.Error("重试耗尽后任务不应继续排队")
		}
	}
}

func TestDeviceRejectedRevokesCredentialRow(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(48*time.Hour))

	f.gateway.failSet(ErrDeviceRejected)
	f.scheduler.RunDueJobs()

	// 设备明确拒绝：永久失败，库中凭证不能悬挂在ACTIVE
	if f.activeCredential(t, reservation.ID) != nil {
		t.Error("设备拒绝后凭证不应保持ACTIVE")
	}
	var credential models.Credential
	f.scheduler.DB.Where("reservation_id = ?", reservation.ID).First(&credential)
	if credential.RevokedBy != "device_rejected" {
		t.Errorf("撤销原因 = %s, 期望 device_rejected", credential.RevokedBy)
	}
	if len(f.scheduler.DeadLetters()) != 1 {
		t.Error("设备拒绝应进入错误队列")
	}
}

func TestRevokeMarksDatabaseBeforeDevice(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(2*time.Hour))

	// 先发放凭证
	f.scheduler.RunDueJobs()
	credential := f.activeCredential(t, reservation.ID)
	if credential == nil {
		t.Fatal("未创建凭证")
	}

	// 退房时间到，但网关不可用
	f.gateway.failClear(ErrGatewayUnavailable)
	f.clock.Advance(3 * time.Hour)
	f.scheduler.RunDueJobs()

	// 库侧先行标记：即使设备清除失败，凭证也不再是ACTIVE
	var saved models.Credential
	f.scheduler.DB.First(&saved, credential.ID)
	if saved.Status != models.CredentialStatusRevoked {
		t.Errorf("凭证状态 = %s, 网关失败时库侧应先标记REVOKED", saved.Status)
	}
	if saved.RevokedBy != "checkout" {
		t.Errorf("撤销原因 = %s, 期望 checkout", saved.RevokedBy)
	}

	// 网关恢复后重试只补设备调用
	f.gateway.failClear(nil)
	f.clock.Advance(2 * f.scheduler.Config.JobBackoffBase)
	f.scheduler.RunDueJobs()

	if len(f.gateway.clearPinCalls()) != 1 {
		t.Errorf("清除调用数 = %d, 期望 1", len(f.gateway.clearPinCalls()))
	}
}

func TestCheckoutRevokeCompletesReservation(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(2*time.Hour))

	f.scheduler.RunDueJobs() // 发放
	f.clock.Advance(3 * time.Hour)
	f.scheduler.RunDueJobs() // 退房撤销

	var saved models.Reservation
	f.scheduler.DB.First(&saved, reservation.ID)
	if saved.Status != models.ReservationStatusCompleted {
		t.Errorf("预订状态 = %s, 退房撤销后期望 COMPLETED", saved.Status)
	}

	if f.activeCredential(t, reservation.ID) != nil {
		t.Error("退房后不应有生效凭证")
	}
	if len(f.gateway.clearPinCalls()) != 1 {
		t.Errorf("清除调用数 = %d, 期望 1", len(f.gateway.clearPinCalls()))
	}
}

func TestCheckoutRevokeWithoutCredentialStillCompletes(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(2*time.Hour))

	// 只保留撤销任务，模拟生成从未成功的预订
	f.scheduler.CancelJobs(reservation.ID)
	f.scheduler.Schedule(JobTypeRevokePin, reservation.ID, reservation.CheckOutAt, "checkout")

	f.clock.Advance(3 * time.Hour)
	f.scheduler.RunDueJobs()

	var saved models.Reservation
	f.scheduler.DB.First(&saved, reservation.ID)
	if saved.Status != models.ReservationStatusCompleted {
		t.Errorf("预订状态 = %s, 无凭证的退房撤销也应推进COMPLETED", saved.Status)
	}
	if len(f.scheduler.DeadLetters()) != 0 {
		t.Error("无凭证可撤销不是错误")
	}
}

func TestDispatchRevokeNowRunsImmediately(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(48*time.Hour))

	f.scheduler.RunDueJobs() // 发放
	credential := f.activeCredential(t, reservation.ID)
	if credential == nil {
		t.Fatal("未创建凭证")
	}

	f.scheduler.Dispatch([]Action{{
		Type:          ActionRevokeNow,
		ReservationID: reservation.ID,
		CredentialID:  credential.ID,
		Reason:        "operator:test",
	}})
	if n := f.scheduler.RunDueJobs(); n != 1 {
		t.Fatalf("立即撤销应当场到期, 执行数 = %d", n)
	}

	var saved models.Credential
	f.scheduler.DB.First(&saved, credential.ID)
	if saved.Status != models.CredentialStatusRevoked {
		t.Errorf("凭证状态 = %s, 期望 REVOKED", saved.Status)
	}
	if saved.RevokedBy != "operator:test" {
		t.Errorf("撤销原因 = %s, 期望 operator:test", saved.RevokedBy)
	}
}

func TestDuplicateGenerateKeepsSingleCredential(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(24*time.Hour))
	f.scheduler.RunDueJobs()

	// 重复投递又排入了同一预订的生成任务
	f.scheduler.Schedule(JobTypeGeneratePin, reservation.ID, f.clock.Now(), "")
	f.scheduler.RunDueJobs()

	var count int64
	f.scheduler.DB.Model(&models.Credential{}).Where("reservation_id = ?", reservation.ID).Count(&count)
	if count != 1 {
		t.Errorf("凭证行数 = %d, 重复生成任务不应重复发放", count)
	}
	if len(f.gateway.setPinCalls()) != 1 {
		t.Errorf("下发调用数 = %d, 第二个任务不应触碰设备", len(f.gateway.setPinCalls()))
	}
}

func TestActiveCredentialUniquePerReservation(t *testing.T) {
	f := newSchedulerFixture(t)
	reservation := f.confirmReservation(t, "res-1",
		f.clock.Now().Add(-time.Hour), f.clock.Now().Add(24*time.Hour))
	f.scheduler.RunDueJobs()

	first := f.activeCredential(t, reservation.ID)
	if first == nil {
		t.Fatal("未创建生效凭证")
	}

	// 唯一索引在存储层拦截第二个生效凭证，不依赖进程内检查
	dup := models.Credential{
		ReservationID: reservation.ID,
		ActiveKey:     &reservation.ID,
		LockID:        first.LockID,
		PinHash:       "hash",
		Status:        models.CredentialStatusActive,
		ValidFrom:     reservation.CheckInAt,
		ValidTo:       reservation.CheckOutAt,
	}
	if err := f.scheduler.DB.Create(&dup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("第二个生效凭证 err = %v, 期望唯一约束冲突", err)
	}

	// 撤销清空active_key后，同一预订可以重新发放，历史行互不冲突
	f.scheduler.revokeCredentialRow(first.ID, "operator")
	if err := f.scheduler.DB.Create(&dup).Error; err != nil {
		t.Fatalf("首个凭证撤销后重新发放失败: %v", err)
	}
}
